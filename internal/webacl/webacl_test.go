package webacl

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/wafv2"
	"github.com/aws/aws-sdk-go-v2/service/wafv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWAF struct {
	acls         []types.WebACLSummary
	pageSize     int
	lists        int
	resources    map[types.ResourceType][]string
	detached     []string
	currentToken string
	deleteTokens []string
	getCalls     int
}

func (f *fakeWAF) ListWebACLs(_ context.Context, in *wafv2.ListWebACLsInput, _ ...func(*wafv2.Options)) (*wafv2.ListWebACLsOutput, error) {
	f.lists++
	start := 0
	if in.NextMarker != nil {
		fmt.Sscanf(*in.NextMarker, "%d", &start)
	}
	end := min(start+f.pageSize, len(f.acls))
	out := &wafv2.ListWebACLsOutput{WebACLs: f.acls[start:end]}
	// Like WAF, always hand back a marker.
	out.NextMarker = aws.String(fmt.Sprint(end))
	return out, nil
}

func (f *fakeWAF) GetWebACL(_ context.Context, _ *wafv2.GetWebACLInput, _ ...func(*wafv2.Options)) (*wafv2.GetWebACLOutput, error) {
	f.getCalls++
	return &wafv2.GetWebACLOutput{LockToken: aws.String(f.currentToken)}, nil
}

func (f *fakeWAF) ListResourcesForWebACL(_ context.Context, in *wafv2.ListResourcesForWebACLInput, _ ...func(*wafv2.Options)) (*wafv2.ListResourcesForWebACLOutput, error) {
	return &wafv2.ListResourcesForWebACLOutput{ResourceArns: f.resources[in.ResourceType]}, nil
}

func (f *fakeWAF) DisassociateWebACL(_ context.Context, in *wafv2.DisassociateWebACLInput, _ ...func(*wafv2.Options)) (*wafv2.DisassociateWebACLOutput, error) {
	f.detached = append(f.detached, aws.ToString(in.ResourceArn))
	return &wafv2.DisassociateWebACLOutput{}, nil
}

func (f *fakeWAF) DeleteWebACL(_ context.Context, in *wafv2.DeleteWebACLInput, _ ...func(*wafv2.Options)) (*wafv2.DeleteWebACLOutput, error) {
	tok := aws.ToString(in.LockToken)
	f.deleteTokens = append(f.deleteTokens, tok)
	if tok != f.currentToken {
		return nil, &types.WAFOptimisticLockException{Message: aws.String("lock token is stale")}
	}
	return &wafv2.DeleteWebACLOutput{}, nil
}

func summaries(n int) []types.WebACLSummary {
	var out []types.WebACLSummary
	for i := 0; i < n; i++ {
		out = append(out, types.WebACLSummary{
			Name:      aws.String(fmt.Sprintf("acl-%d", i)),
			Id:        aws.String(fmt.Sprintf("id-%d", i)),
			ARN:       aws.String(fmt.Sprintf("arn:aws:wafv2:us-east-1:111122223333:regional/webacl/acl-%d/id-%d", i, i)),
			LockToken: aws.String("t1"),
		})
	}
	return out
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, types.ScopeRegional, s)

	s, err = ParseScope("cloudfront")
	require.NoError(t, err)
	assert.Equal(t, types.ScopeCloudfront, s)

	_, err = ParseScope("global")
	require.Error(t, err)
}

func TestDeleteFindsAclOnLaterPage(t *testing.T) {
	f := &fakeWAF{acls: summaries(5), pageSize: 2, currentToken: "t1"}

	found, err := NewDeleter(f, types.ScopeRegional).Delete(context.Background(), "acl-4")

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, f.lists)
	assert.Equal(t, []string{"t1"}, f.deleteTokens)
}

func TestDeleteMissingAclStopsOnEmptyPage(t *testing.T) {
	f := &fakeWAF{acls: summaries(3), pageSize: 2}

	found, err := NewDeleter(f, types.ScopeRegional).Delete(context.Background(), "nope")

	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 3, f.lists)
	assert.Empty(t, f.deleteTokens)
}

func TestDeleteDetachesRegionalResources(t *testing.T) {
	f := &fakeWAF{
		acls:         summaries(1),
		pageSize:     10,
		currentToken: "t1",
		resources: map[types.ResourceType][]string{
			"APPLICATION_LOAD_BALANCER": {"arn:alb/1", "arn:alb/2"},
			"API_GATEWAY":               {"arn:apigw/stage"},
		},
	}

	_, err := NewDeleter(f, types.ScopeRegional).Delete(context.Background(), "acl-0")

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"arn:alb/1", "arn:alb/2", "arn:apigw/stage"}, f.detached)
}

func TestDeleteCloudFrontSkipsDetach(t *testing.T) {
	f := &fakeWAF{
		acls:         summaries(1),
		pageSize:     10,
		currentToken: "t1",
		resources:    map[types.ResourceType][]string{"APPLICATION_LOAD_BALANCER": {"arn:alb/1"}},
	}

	_, err := NewDeleter(f, types.ScopeCloudfront).Delete(context.Background(), "acl-0")

	require.NoError(t, err)
	assert.Empty(t, f.detached)
}

func TestDeleteRefreshesStaleLockTokenOnce(t *testing.T) {
	f := &fakeWAF{acls: summaries(1), pageSize: 10, currentToken: "t2"}

	_, err := NewDeleter(f, types.ScopeRegional).Delete(context.Background(), "acl-0")

	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, f.deleteTokens)
	assert.Equal(t, 1, f.getCalls)
}

type racingWAF struct {
	*fakeWAF
}

// GetWebACL hands back a token that is already stale again.
func (r racingWAF) GetWebACL(ctx context.Context, in *wafv2.GetWebACLInput, opts ...func(*wafv2.Options)) (*wafv2.GetWebACLOutput, error) {
	out, _ := r.fakeWAF.GetWebACL(ctx, in, opts...)
	r.currentToken += "x"
	return out, nil
}

func TestDeleteGivesUpAfterSecondLockConflict(t *testing.T) {
	f := &fakeWAF{acls: summaries(1), pageSize: 10, currentToken: "t2"}

	_, err := NewDeleter(racingWAF{f}, types.ScopeRegional).Delete(context.Background(), "acl-0")

	require.Error(t, err)
	assert.Len(t, f.deleteTokens, 2)
}
