package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		studyNamingPolicy(),
		parameterBoundsPolicy(),
		recorderPolicy(),
		caseLimitsPolicy(),
		outputUniquenessPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, src string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Tags:        tags,
		Metadata:    map[string]interface{}{"source": "builtin"},
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        src,
	}
}

// studyNamingPolicy enforces study naming conventions.
func studyNamingPolicy() Policy {
	return builtin(
		"study-naming",
		"Study names should be lowercase letters, numbers and hyphens",
		SeverityWarning,
		[]string{"naming", "conventions"},
		`package mdao.policies.naming

import rego.v1

deny contains violation if {
	name := input.study.name
	not regex.match("^[a-z0-9][a-z0-9-]*$", name)
	violation := {
		"message": sprintf("study name '%s' should contain only lowercase letters, numbers and hyphens", [name]),
		"subject": name,
	}
}
`)
}

// parameterBoundsPolicy flags parameters a sweep cannot safely explore.
func parameterBoundsPolicy() Policy {
	return builtin(
		"parameter-bounds",
		"Parameters should be bounded, with a finite difference step inside their range",
		SeverityWarning,
		[]string{"parameters", "bounds"},
		`package mdao.policies.bounds

import rego.v1

deny contains violation if {
	some p in input.study.parameters
	p.low == null
	violation := {
		"message": sprintf("parameter %s has no lower bound", [p.key]),
		"subject": p.key,
	}
}

deny contains violation if {
	some p in input.study.parameters
	p.high == null
	violation := {
		"message": sprintf("parameter %s has no upper bound", [p.key]),
		"subject": p.key,
	}
}

deny contains violation if {
	some p in input.study.parameters
	p.low != null
	p.high != null
	p.low > p.high
	violation := {
		"message": sprintf("parameter %s has low %v above high %v", [p.key, p.low, p.high]),
		"subject": p.key,
		"severity": "error",
	}
}

deny contains violation if {
	some p in input.study.parameters
	p.low != null
	p.high != null
	p.fd_step != null
	p.fd_step > p.high - p.low
	violation := {
		"message": sprintf("parameter %s has fd_step %v wider than its range", [p.key, p.fd_step]),
		"subject": p.key,
	}
}
`)
}

// recorderPolicy warns when case results would be discarded.
func recorderPolicy() Policy {
	return builtin(
		"recorders",
		"Studies that run cases should record them",
		SeverityWarning,
		[]string{"recording"},
		`package mdao.policies.recorders

import rego.v1

deny contains violation if {
	input.study.case_count > 0
	count(input.study.recorders) == 0
	violation := {
		"message": sprintf("%d cases will run but no recorder is configured", [input.study.case_count]),
		"subject": input.study.name,
	}
}

deny contains violation if {
	input.study.case_count > 0
	count(input.study.outputs) == 0
	violation := {
		"message": "cases will run but no outputs are recorded",
		"subject": input.study.name,
		"severity": "info",
	}
}
`)
}

// caseLimitsPolicy blocks studies with more cases than data.mdao.limits allows.
func caseLimitsPolicy() Policy {
	return builtin(
		"case-limits",
		"Studies may not exceed the configured number of cases",
		SeverityError,
		[]string{"limits"},
		`package mdao.policies.limits

import rego.v1

deny contains violation if {
	limit := data.mdao.limits.max_cases
	input.study.case_count > limit
	violation := {
		"message": sprintf("study has %d cases, more than the limit of %d", [input.study.case_count, limit]),
		"subject": input.study.name,
	}
}
`)
}

// outputUniquenessPolicy rejects outputs that are recorded twice.
func outputUniquenessPolicy() Policy {
	return builtin(
		"output-uniqueness",
		"Each output expression may be recorded once",
		SeverityError,
		[]string{"outputs"},
		`package mdao.policies.outputs

import rego.v1

deny contains violation if {
	some i, j
	out := input.study.outputs[i]
	input.study.outputs[j] == out
	i < j
	violation := {
		"message": sprintf("output '%s' is listed more than once", [out]),
		"subject": out,
	}
}

deny contains violation if {
	some out in input.study.outputs
	some p in input.study.parameters
	out == p.key
	violation := {
		"message": sprintf("output '%s' is a driver parameter", [out]),
		"subject": out,
		"severity": "warning",
	}
}
`)
}
