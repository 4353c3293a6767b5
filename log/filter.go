package log

import "go.uber.org/zap/zapcore"

// DropFieldsCore wraps core so that fields whose key is in keys never reach
// it, whether they were bound with With or passed on the log call. Resource
// properties such as DSNs carrying passwords are kept out of output this way.
func DropFieldsCore(core zapcore.Core, keys ...string) zapcore.Core {
	blocked := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key != "" {
			blocked[key] = struct{}{}
		}
	}
	if len(blocked) == 0 {
		return core
	}
	return dropCore{Core: core, blocked: blocked}
}

type dropCore struct {
	zapcore.Core
	blocked map[string]struct{}
}

func (c dropCore) With(fields []zapcore.Field) zapcore.Core {
	return dropCore{Core: c.Core.With(c.keep(fields)), blocked: c.blocked}
}

// Check registers c itself, not the wrapped core, so Write sees per-call fields.
func (c dropCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c dropCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, c.keep(fields))
}

// keep returns fields without blocked keys. The input slice is left untouched.
func (c dropCore) keep(fields []zapcore.Field) []zapcore.Field {
	n := 0
	for _, f := range fields {
		if _, ok := c.blocked[f.Key]; !ok {
			n++
		}
	}
	if n == len(fields) {
		return fields
	}
	kept := make([]zapcore.Field, 0, n)
	for _, f := range fields {
		if _, ok := c.blocked[f.Key]; !ok {
			kept = append(kept, f)
		}
	}
	return kept
}
