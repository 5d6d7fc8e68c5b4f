// Package awserr maps AWS SDK errors onto the handful of outcomes the cleanup
// jobs act on. Every place that inspects a provider error goes through here.
package awserr

import (
	"errors"
	"regexp"
	"strings"

	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	waftypes "github.com/aws/aws-sdk-go-v2/service/wafv2/types"
	"github.com/aws/smithy-go"
)

type Kind int

const (
	Other Kind = iota
	NotFound
	MalformedRequest
	Throttled
	AccessDenied
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not-found"
	case MalformedRequest:
		return "malformed-request"
	case Throttled:
		return "throttled"
	case AccessDenied:
		return "access-denied"
	default:
		return "other"
	}
}

var notFoundCodes = map[string]struct{}{
	"NoSuchBucket":                           {},
	"NotFound":                               {},
	"NoSuchKey":                              {},
	"NoSuchUpload":                           {},
	"ResourceNotFoundException":              {},
	"WAFNonexistentItemException":            {},
	"NoSuchConfigurationAggregatorException": {},
}

var malformedCodes = map[string]struct{}{
	"MalformedXML":   {},
	"InvalidRequest": {},
}

var throttleCodes = map[string]struct{}{
	"Throttling":                             {},
	"ThrottlingException":                    {},
	"ThrottledException":                     {},
	"TooManyRequestsException":               {},
	"RequestLimitExceeded":                   {},
	"RequestThrottled":                       {},
	"RequestThrottledException":              {},
	"SlowDown":                               {},
	"ProvisionedThroughputExceededException": {},
}

var accessDeniedCodes = map[string]struct{}{
	"AccessDenied":          {},
	"AccessDeniedException": {},
	"Forbidden":             {},
	"UnauthorizedOperation": {},
}

// Classify reports which kind of failure err represents. A nil error is Other.
func Classify(err error) Kind {
	if err == nil {
		return Other
	}

	var (
		noBucket *s3types.NoSuchBucket
		noObject *s3types.NotFound
		noTable  *dynamotypes.ResourceNotFoundException
		noSecret *smtypes.ResourceNotFoundException
		noWebACL *waftypes.WAFNonexistentItemException
	)
	switch {
	case errors.As(err, &noBucket), errors.As(err, &noObject),
		errors.As(err, &noTable), errors.As(err, &noSecret), errors.As(err, &noWebACL):
		return NotFound
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return Other
	}

	code := apiErr.ErrorCode()
	if _, ok := notFoundCodes[code]; ok {
		return NotFound
	}
	if _, ok := malformedCodes[code]; ok {
		return MalformedRequest
	}
	if _, ok := throttleCodes[code]; ok {
		return Throttled
	}
	if _, ok := accessDeniedCodes[code]; ok {
		return AccessDenied
	}

	// CloudFormation has no dedicated code for a missing stack.
	if code == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist") {
		return NotFound
	}
	// Some S3 proxies surface MalformedXML only in the message body.
	if strings.Contains(apiErr.ErrorMessage(), "MalformedXML") {
		return MalformedRequest
	}
	return Other
}

func IsNotFound(err error) bool { return Classify(err) == NotFound }

func IsThrottled(err error) bool { return Classify(err) == Throttled }

func IsMalformedRequest(err error) bool { return Classify(err) == MalformedRequest }

// CloudFormation stack event reason for an export still imported elsewhere, e.g.
// "Export vpc-id cannot be deleted as it is in use by network-consumers".
var exportInUse = regexp.MustCompile(`(?i)export\s+(\S+)\s+cannot be deleted as it is in use by\s+(\S+)`)

// ExportInUse extracts the export and the importing stack from a stack event
// reason. ok is false when the reason is about something else.
func ExportInUse(reason string) (export, importer string, ok bool) {
	m := exportInUse.FindStringSubmatch(reason)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Code returns the provider error code, or "" when err carries none.
func Code(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
