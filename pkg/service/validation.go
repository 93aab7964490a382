package service

import (
	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

var validTones = map[string]bool{
	"professional": true, "casual": true, "academic": true, "friendly": true, "persuasive": true,
}

var validPlatforms = map[string]bool{
	"twitter": true, "instagram": true, "linkedin": true, "facebook": true,
}

// validateParameters enforces spec.md §6's per-kind parameter shape,
// rejecting unknown keys and out-of-range values. It mutates nothing;
// callers pass the already-resolved effective parameter map.
func validateParameters(kind types.TransformationKind, params types.Params) error {
	switch kind {
	case types.KindBlogPost:
		return validateKeys(params, map[string]func(interface{}) error{
			"word_count": intRange("word_count", 300, 3000),
			"tone":       enum("tone", validTones),
		})
	case types.KindSocialMedia:
		return validateKeys(params, map[string]func(interface{}) error{
			"platform":   enum("platform", validPlatforms),
			"post_count": intRange("post_count", 1, 10),
		})
	case types.KindEmailSequence:
		return validateKeys(params, map[string]func(interface{}) error{
			"email_count": intRange("email_count", 1, 7),
		})
	case types.KindNewsletter:
		return validateKeys(params, map[string]func(interface{}) error{
			"sections": stringList("sections"),
		})
	case types.KindSummary:
		return validateKeys(params, map[string]func(interface{}) error{
			"length": intRange("length", 100, 1000),
		})
	case types.KindCustom:
		return validateKeys(params, map[string]func(interface{}) error{
			"custom_instructions": maxLenString("custom_instructions", 4000),
		})
	default:
		return apperr.InvalidInputf("unknown transformation kind %q", kind)
	}
}

// validateKeys rejects any key in params not named by validators, then runs
// each named validator against its value (required: every named key must
// be present).
func validateKeys(params types.Params, validators map[string]func(interface{}) error) error {
	for key := range params {
		if _, known := validators[key]; !known {
			return apperr.InvalidInputf("unknown parameter %q", key)
		}
	}
	for key, validate := range validators {
		value, present := params[key]
		if !present {
			return apperr.InvalidInputf("missing required parameter %q", key)
		}
		if err := validate(value); err != nil {
			return err
		}
	}
	return nil
}

func intRange(name string, min, max int) func(interface{}) error {
	return func(v interface{}) error {
		n, ok := asInt(v)
		if !ok {
			return apperr.InvalidInputf("%s must be an integer", name)
		}
		if n < min || n > max {
			return apperr.InvalidInputf("%s must be between %d and %d", name, min, max)
		}
		return nil
	}
}

func enum(name string, allowed map[string]bool) func(interface{}) error {
	return func(v interface{}) error {
		s, ok := v.(string)
		if !ok || !allowed[s] {
			return apperr.InvalidInputf("%s has invalid value %v", name, v)
		}
		return nil
	}
}

func stringList(name string) func(interface{}) error {
	return func(v interface{}) error {
		list, ok := v.([]interface{})
		if !ok || len(list) == 0 {
			return apperr.InvalidInputf("%s must be a non-empty list of strings", name)
		}
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return apperr.InvalidInputf("%s must contain only strings", name)
			}
		}
		return nil
	}
}

func maxLenString(name string, max int) func(interface{}) error {
	return func(v interface{}) error {
		s, ok := v.(string)
		if !ok {
			return apperr.InvalidInputf("%s must be a string", name)
		}
		if len(s) == 0 {
			return apperr.InvalidInputf("%s must not be empty", name)
		}
		if len(s) > max {
			return apperr.InvalidInputf("%s must be at most %d characters", name, max)
		}
		return nil
	}
}

// asInt accepts the numeric shapes JSON decoding and direct construction
// both produce (float64 from encoding/json, int from hand-built test maps).
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	default:
		return 0, false
	}
}
