package models

import (
	"regexp"
	"strings"
)

// Target names end up in file names and object keys.
var targetNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxTargetNameLen = 128

const lineBreaks = "\r\n"

// ValidateTarget checks the fields of t that would be unsafe to act on.
func ValidateTarget(t Target) error {
	name := t.TargetName()
	switch {
	case name == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case len(name) > maxTargetNameLen:
		return &ValidationError{Target: name, Field: "name", Reason: "longer than 128 characters"}
	case !targetNamePattern.MatchString(name):
		return &ValidationError{Target: name, Field: "name", Reason: "may only contain letters, digits, '.', '_' and '-' and must start with a letter or digit"}
	}

	switch v := t.(type) {
	case DirectoryTarget:
		if strings.TrimSpace(v.SourcePath) == "" {
			return &ValidationError{Target: name, Field: "path", Reason: "must not be empty"}
		}
	case DatabaseTarget:
		if v.Database == "" {
			return &ValidationError{Target: name, Field: "database", Reason: "must not be empty"}
		}
		// would be parsed as an option by the dump tool
		if strings.HasPrefix(v.Database, "-") {
			return &ValidationError{Target: name, Field: "database", Reason: "must not start with '-'"}
		}
		// both are written unquoted into the dump tool's option file
		if strings.ContainsAny(v.Host, lineBreaks) {
			return &ValidationError{Target: name, Field: "host", Reason: "must not contain line breaks"}
		}
		if strings.ContainsAny(v.Username, lineBreaks) {
			return &ValidationError{Target: name, Field: "username", Reason: "must not contain line breaks"}
		}
		if v.Host == "" && v.CredentialsFile == "" {
			return &ValidationError{Target: name, Field: "host", Reason: "must not be empty"}
		}
		if v.Port < 1 || v.Port > 65535 {
			return &ValidationError{Target: name, Field: "port", Reason: "must be between 1 and 65535"}
		}
	}
	return nil
}

// ValidateTargets rejects duplicate names, then validates each target.
func ValidateTargets(targets []Target) error {
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if _, dup := seen[t.TargetName()]; dup {
			return &ValidationError{Target: t.TargetName(), Field: "name", Reason: "duplicate target name"}
		}
		seen[t.TargetName()] = struct{}{}
	}
	for _, t := range targets {
		if err := ValidateTarget(t); err != nil {
			return err
		}
	}
	return nil
}
