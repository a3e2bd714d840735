package lifecycle

// SetStatusForTest exposes the status-transition write
// path.
var SetStatusForTest = (*Manager).setStatus
