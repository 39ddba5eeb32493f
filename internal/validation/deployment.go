// Package validation checks deployment target fields before they are sent
// to the deployment API.
package validation

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxResourceGroupLength is the longest resource group name accepted.
const MaxResourceGroupLength = 90

// resourceGroupRegex validates resource group names:
// - 1 to 90 characters
// - ASCII letters, digits, periods, underscores and hyphens only
var resourceGroupRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,90}$`)

// tagRegex validates deployment tags.
var tagRegex = regexp.MustCompile(`^[A-Za-z0-9._:=/-]+$`)

// MaxTagLength is the longest tag accepted.
const MaxTagLength = 64

// Error is a validation failure on a single field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateResourceGroup validates a resource group (or stack) name.
func ValidateResourceGroup(name string) error {
	if strings.TrimSpace(name) == "" {
		return &Error{Field: "resource_group", Message: "resource group is required"}
	}
	if len(name) > MaxResourceGroupLength {
		return &Error{Field: "resource_group", Message: "resource group must be 90 characters or less"}
	}
	if !resourceGroupRegex.MatchString(name) {
		return &Error{
			Field:   "resource_group",
			Message: "resource group can only contain letters, numbers, periods, underscores and hyphens",
		}
	}
	return nil
}

// ValidateLocation validates a deployment region.
func ValidateLocation(location string) error {
	if strings.TrimSpace(location) == "" {
		return &Error{Field: "location", Message: "location is required"}
	}
	return nil
}

// ValidateTag validates a single deployment tag.
func ValidateTag(tag string) error {
	if tag == "" {
		return &Error{Field: "tags", Message: "tag cannot be empty"}
	}
	if len(tag) > MaxTagLength {
		return &Error{Field: "tags", Message: "tag must be 64 characters or less"}
	}
	if !tagRegex.MatchString(tag) {
		return &Error{Field: "tags", Message: "tag " + tag + " contains invalid characters"}
	}
	return nil
}

// ValidateTags validates every tag and reports the first failure with its index.
func ValidateTags(tags []string) error {
	for i, tag := range tags {
		if err := ValidateTag(tag); err != nil {
			verr := err.(*Error)
			verr.Field = "tags[" + strconv.Itoa(i) + "]"
			return verr
		}
	}
	return nil
}

// SplitTags parses a comma separated tag list, trimming blanks.
func SplitTags(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
