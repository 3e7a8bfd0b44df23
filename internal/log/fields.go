package log

// FieldComponent is the attribute every record is stamped with.
const FieldComponent = "component"

// Component names for the two binaries.
const (
	ComponentApp    = "app"
	ComponentWorker = "worker"
)
