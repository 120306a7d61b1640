package rulebook

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// schemaCUE describes the structure of a rulebook. Names are optional here
// because empty and duplicate names are reported by Assemble with their own
// error codes.
const schemaCUE = `
#Rulebook: [...#RuleSet]

#RuleSet: {
	name?:                 string
	hosts:                 string | [...string]
	sources?:              [...{...}]
	rules?:                [...#Rule]
	gather_facts?:         bool
	default_events_ttl?:   string
	execution_strategy?:   "sequential" | "parallel"
	match_multiple_rules?: bool
}

#Rule: {
	name?:     string
	condition: #Condition
	action?:   #Action
	actions?:  [...#Action]
	enabled?:  bool
	throttle?: #Throttle
}

#Action: string | {[string]: _}

#Duration: string | number

#Condition: string | bool |
	{all: [...string], timeout?: #Duration} |
	{any: [...string], timeout?: #Duration} |
	{not_all: [...string], timeout: #Duration}

#Throttle: {
	group_by_attributes: [...string]
	once_within?:        #Duration
	once_after?:         #Duration
}
`

// Validate checks a loaded rulebook document against the schema.
func Validate(doc any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile rulebook schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Rulebook"))
	v := ctx.Encode(doc)
	if err := v.Err(); err != nil {
		return schemaError(err)
	}

	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

// schemaError reports the first CUE error with its path.
func schemaError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &AssemblyError{Code: ErrCodeSchema, Message: "rulebook does not match schema", Err: err}
	}
	first := errs[0]
	path := strings.Join(first.Path(), ".")
	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = path + ": " + msg
	}
	return &AssemblyError{Code: ErrCodeSchema, Message: msg}
}
