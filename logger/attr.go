package logger

import (
	"encoding/json"
	"log/slog"
	"path"
	"reflect"
	"slices"
	"strings"
)

/*
Log attribute key values. Generally shouldn't be used directly, use
appropriate "attribute constructor function" instead.

Only define names here if they are common for multiple modules, module
specific names should be defined in the module.
*/
const (
	ModuleKey  = "module"
	ErrorKey   = "err"
	DataKey    = "data"
	SwapIDKey  = "swap_id"
	AssetIDKey = "asset_id"
	TxIDKey    = "tx_id"
	StateKey   = "state"
)

/*
Error adds error to the log

	if err:= f(); err != nil {
		log.Error("calling f", logger.Error(err))
	}
*/
func Error(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

/*
Data adds additional data field to the message.

slog.GroupValue shouldn't be used as the data - in the ECS formatter all
groups will end up under the same key possibly causing problems with index!

Use of anonymous types is discouraged too.
*/
func Data(d any) slog.Attr {
	return slog.Any(DataKey, d)
}

/*
SwapID is used to log ID of the swap execution associated to the logging call.

Execution specific components should create logger which adds this
attribute automatically (logger.With) rather than adding it to every call.
*/
func SwapID(id string) slog.Attr {
	return slog.String(SwapIDKey, id)
}

/*
AssetID logs ID of the escrow asset. When the call concerns both assets of
the swap pass both IDs, they are logged as a list.
*/
func AssetID(id ...string) slog.Attr {
	if len(id) == 1 {
		return slog.String(AssetIDKey, id[0])
	}
	return slog.Any(AssetIDKey, id)
}

// TxID logs ledger transaction ID.
func TxID(id string) slog.Attr {
	return slog.String(TxIDKey, id)
}

// State logs the (execution) state, anything implementing fmt.Stringer works.
func State(s interface{ String() string }) slog.Attr {
	return slog.String(StateKey, s.String())
}

// attrFormatter is the signature of slog.HandlerOptions.ReplaceAttr.
type attrFormatter = func(groups []string, a slog.Attr) slog.Attr

/*
composeAttrFmt chains the formatters, output of one is the input of the next.
Nil formatters are skipped, returns nil when nothing is left.
*/
func composeAttrFmt(f ...attrFormatter) attrFormatter {
	f = slices.DeleteFunc(f, func(f attrFormatter) bool { return f == nil })
	switch len(f) {
	case 0:
		return nil
	case 1:
		return f[0]
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		for _, fn := range f {
			a = fn(groups, a)
		}
		return a
	}
}

// formatTimeAttr returns nil for empty format (handler's default), "none" drops the time.
func formatTimeAttr(format string) attrFormatter {
	if format == "" {
		return nil
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.TimeKey || len(groups) != 0 {
			return a
		}
		if format == "none" {
			return slog.Attr{}
		}
		if t := a.Value.Time(); !t.IsZero() {
			a.Value = slog.StringValue(t.Format(format))
		}
		return a
	}
}

/*
formatLevelAttr gives names to the custom levels, without it slog would
render them as offsets of the closest standard level (ie "ERROR+4").
*/
func formatLevelAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) != 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok {
		switch {
		case lvl == LevelTrace:
			a.Value = slog.StringValue("TRACE")
		case lvl >= LevelCritical:
			a.Value = slog.StringValue("CRITICAL")
		}
	}
	return a
}

// formatDataAttrAsJSON makes the text handler print the data attribute as JSON instead of %+v.
func formatDataAttrAsJSON(groups []string, a slog.Attr) slog.Attr {
	if a.Key != DataKey || a.Value.Kind() != slog.KindAny {
		return a
	}
	if b, err := json.Marshal(a.Value.Any()); err == nil {
		a.Value = slog.StringValue(string(b))
	}
	return a
}

// formatAttrConsole keeps only the attributes a CLI user cares about.
func formatAttrConsole(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey, slog.MessageKey, ErrorKey, SwapIDKey, TxIDKey:
		return a
	}
	return slog.Attr{}
}

// formatAttrECS nests the well known attributes the way Elastic Common Schema expects them.
func formatAttrECS(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.MessageKey:
		return slog.String("message", a.Value.String())
	case slog.SourceKey:
		src, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		return slog.Group("log", slog.Group("origin",
			slog.String("function", shortFuncName(src.Function)),
			slog.Group("file", slog.String("name", src.File), slog.Int("line", src.Line)),
		))
	case ErrorKey:
		return slog.Group("error", slog.Any("message", a.Value.Any()))
	case SwapIDKey:
		return slog.Group("swap", slog.Any("id", a.Value))
	case AssetIDKey:
		return slog.Group("asset", slog.Any("id", a.Value))
	case TxIDKey:
		return slog.Group("transaction", slog.Any("id", a.Value))
	case DataKey:
		// values of different types under the same key would conflict in the
		// index so the value is nested under its type name
		return slog.Group(DataKey, slog.Any(dataName(a.Value), a.Value))
	}
	return a
}

// dataName returns the type name of v usable as JSON key, ie "*escrow.SwapRecord" becomes "escrow_SwapRecord".
func dataName(v slog.Value) string {
	if k := v.Kind(); k != slog.KindAny && k != slog.KindLogValuer {
		return k.String()
	}
	name := strings.TrimLeft(reflect.TypeOf(v.Any()).String(), "*")
	return strings.ReplaceAll(name, ".", "_")
}

// shortFuncName strips the package path from the function name,
// "github.com/bookingswap/swapengine/swap.(*Service).rollback" becomes "(*Service).rollback".
func shortFuncName(fn string) string {
	_, fn = path.Split(fn)
	if _, name, ok := strings.Cut(fn, "."); ok {
		return name
	}
	return fn
}
