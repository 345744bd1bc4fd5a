package validation

type severity int

const (
	sevIgnore severity = iota
	sevWarning
	sevError
)

// policy maps the soft findings of each layer to a severity. Hard errors
// (missing required fields, unknown types, dangling references) are errors
// under every profile.
type policy struct {
	unknownParameter   severity
	missingOptional    severity
	outdatedVersion    severity
	missingTypeVersion severity
	missingCredential  severity
	orphanNode         severity
	missingTrigger     severity
	unevaluatedBraces  severity
	disabledEndpoint   severity
}

func policyFor(p Profile) policy {
	switch p {
	case ProfileMinimal:
		return policy{}
	case ProfileRuntime:
		return policy{
			unknownParameter:   sevWarning,
			outdatedVersion:    sevWarning,
			missingTypeVersion: sevWarning,
			missingCredential:  sevWarning,
			unevaluatedBraces:  sevWarning,
		}
	case ProfileStrict:
		return policy{
			unknownParameter:   sevError,
			missingOptional:    sevError,
			outdatedVersion:    sevError,
			missingTypeVersion: sevError,
			missingCredential:  sevError,
			orphanNode:         sevWarning,
			missingTrigger:     sevWarning,
			unevaluatedBraces:  sevError,
			disabledEndpoint:   sevWarning,
		}
	default:
		return policy{
			unknownParameter:   sevWarning,
			missingOptional:    sevWarning,
			outdatedVersion:    sevWarning,
			missingTypeVersion: sevWarning,
			missingCredential:  sevWarning,
			orphanNode:         sevWarning,
			missingTrigger:     sevWarning,
			unevaluatedBraces:  sevWarning,
			disabledEndpoint:   sevWarning,
		}
	}
}
