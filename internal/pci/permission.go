package pci

import "os"

// isPermissionError reports whether err (as returned by a mapPhysical call)
// is a permission failure rather than some other mapping failure, so the
// caller can tell pcierr.PermissionDenied apart from pcierr.MappingFailed.
func isPermissionError(err error) bool {
	return os.IsPermission(err)
}
