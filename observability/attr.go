package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	OutcomeKey   attribute.Key = "outcome"
	ErrorCodeKey attribute.Key = "error.code"
)

func Outcome(outcome string) attribute.KeyValue {
	return OutcomeKey.String(outcome)
}

func ErrorCode(code string) attribute.KeyValue {
	return ErrorCodeKey.String(code)
}

/*
ErrStatus returns attribute named "status" with value "ok" if the param
err is nil and "err" when it is not.
*/
func ErrStatus(err error) attribute.KeyValue {
	status := "ok"
	if err != nil {
		status = "err"
	}
	return attribute.String("status", status)
}
