package awserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func apiErr(code, msg string) error {
	return fmt.Errorf("operation error: %w", &smithy.GenericAPIError{Code: code, Message: msg})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Other},
		{"plain error", errors.New("connection reset"), Other},
		{"typed no such bucket", &s3types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}, NotFound},
		{"typed head bucket 404", fmt.Errorf("head: %w", &s3types.NotFound{}), NotFound},
		{"typed secret missing", &smtypes.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}, NotFound},
		{"stack missing", apiErr("ValidationError", "Stack with id app-stack does not exist"), NotFound},
		{"other validation error", apiErr("ValidationError", "Template format error"), Other},
		{"malformed xml", apiErr("MalformedXML", "The XML you provided was not well-formed or did not validate against our published schema"), MalformedRequest},
		{"malformed in message only", apiErr("BadRequest", "MalformedXML: unexpected element"), MalformedRequest},
		{"secrets throttling", apiErr("ThrottlingException", "Rate exceeded"), Throttled},
		{"s3 slow down", apiErr("SlowDown", "Please reduce your request rate."), Throttled},
		{"access denied", apiErr("AccessDenied", "Access Denied"), AccessDenied},
		{"head bucket forbidden", apiErr("Forbidden", ""), AccessDenied},
		{"unknown code", apiErr("BucketNotEmpty", "The bucket you tried to delete is not empty"), Other},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err), "kind=%s", Classify(tc.err))
		})
	}
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsNotFound(apiErr("NoSuchBucket", "")))
	assert.True(t, IsThrottled(apiErr("TooManyRequestsException", "")))
	assert.True(t, IsMalformedRequest(apiErr("MalformedXML", "")))
	assert.Equal(t, "SlowDown", Code(apiErr("SlowDown", "")))
	assert.Equal(t, "", Code(errors.New("boom")))
}

func TestExportInUse(t *testing.T) {
	export, importer, ok := ExportInUse("Export vpc-stack-VpcId cannot be deleted as it is in use by app-stack")
	assert.True(t, ok)
	assert.Equal(t, "vpc-stack-VpcId", export)
	assert.Equal(t, "app-stack", importer)

	_, _, ok = ExportInUse("Resource handler returned message: \"The bucket you tried to delete is not empty\"")
	assert.False(t, ok)

	_, _, ok = ExportInUse("")
	assert.False(t, ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "malformed-request", MalformedRequest.String())
	assert.Equal(t, "other", Kind(42).String())
}
