// Package exitcode defines named exit codes for the metatrain CLI.
//
// Each code maps a specific termination condition to a numeric value
// recognized by shell scripts and CI pipelines.
package exitcode

// Exit code constants matching the run lifecycle's failure taxonomy.
const (
	Success                = 0   // Training completed and final checkpoint is durable
	Error                  = 1   // Invalid args, misconfiguration, save failure
	AcceleratorUnavailable = 2   // No supported compute device found at pre-flight
	CheckpointCorrupt      = 3   // Resume requested but the checkpoint is unreadable or incomplete
	UnsupportedSpace       = 4   // Environment space is not a bounded continuous box
	Interrupted            = 130 // SIGINT/SIGTERM received
)

// Name returns the human-readable name for the given exit code.
// Unknown codes return "unknown".
func Name(code int) string {
	switch code {
	case Success:
		return "Success"
	case Error:
		return "Error"
	case AcceleratorUnavailable:
		return "AcceleratorUnavailable"
	case CheckpointCorrupt:
		return "CheckpointCorrupt"
	case UnsupportedSpace:
		return "UnsupportedSpace"
	case Interrupted:
		return "Interrupted"
	default:
		return "unknown"
	}
}
