package libim

// logger is the structured logging surface every component receives. Fields added with WithField are
// carried by the returned logger only.
type logger interface {
	WithField(key string, value any) logger
	Debug(args ...any)
	Debugf(format string, args ...any)
	Debugln(args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Infoln(args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Warnln(args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Errorln(args ...any)
}

// Logger lets callers outside the package hold and pass the logger.
type Logger = logger
