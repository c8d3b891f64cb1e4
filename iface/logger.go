package iface

// Logger is an interface to the logger the client writes to. Arguments
// are handled in the manner of fmt.Printf.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
