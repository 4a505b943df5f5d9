package reconciler

import (
	"strings"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/pathutil"
)

// ProjectPrefix returns the object-store prefix that holds everything
// belonging to a project, per the layout in the data model, without a
// trailing slash:
// <rootPrefix>/<sanitizedProject>/<orgSegment>/<sanitizedProject>
func ProjectPrefix(cfg *config.Config, projectName string) string {
	sanitized := pathutil.Sanitize(projectName)
	org := pathutil.Sanitize(cfg.OrgFolderName)
	return strings.Join([]string{cfg.S3RootPrefix, sanitized, org, sanitized}, "/")
}

// ObjectKey returns the full object key for a project-relative key.
func ObjectKey(cfg *config.Config, projectName string, relKey pathutil.RelKey) string {
	return ProjectPrefix(cfg, projectName) + "/" + string(relKey)
}
