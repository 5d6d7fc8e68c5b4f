// Package webacl deletes WAFv2 web ACLs by name after detaching them from the
// resources they protect.
package webacl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/wafv2"
	"github.com/aws/aws-sdk-go-v2/service/wafv2/types"

	"github.com/dev-tams/cloudsweep/internal/logctx"
)

type API interface {
	ListWebACLs(ctx context.Context, params *wafv2.ListWebACLsInput, optFns ...func(*wafv2.Options)) (*wafv2.ListWebACLsOutput, error)
	GetWebACL(ctx context.Context, params *wafv2.GetWebACLInput, optFns ...func(*wafv2.Options)) (*wafv2.GetWebACLOutput, error)
	ListResourcesForWebACL(ctx context.Context, params *wafv2.ListResourcesForWebACLInput, optFns ...func(*wafv2.Options)) (*wafv2.ListResourcesForWebACLOutput, error)
	DisassociateWebACL(ctx context.Context, params *wafv2.DisassociateWebACLInput, optFns ...func(*wafv2.Options)) (*wafv2.DisassociateWebACLOutput, error)
	DeleteWebACL(ctx context.Context, params *wafv2.DeleteWebACLInput, optFns ...func(*wafv2.Options)) (*wafv2.DeleteWebACLOutput, error)
}

var _ API = (*wafv2.Client)(nil)

// Resource types a regional web ACL can be associated with.
var regionalResourceTypes = []types.ResourceType{
	"APPLICATION_LOAD_BALANCER",
	"API_GATEWAY",
	"APPSYNC",
	"COGNITO_USER_POOL",
	"APP_RUNNER_SERVICE",
	"VERIFIED_ACCESS_INSTANCE",
}

// ParseScope maps the --scope flag to a WAF scope.
func ParseScope(s string) (types.Scope, error) {
	switch strings.ToUpper(s) {
	case "", "REGIONAL":
		return types.ScopeRegional, nil
	case "CLOUDFRONT":
		return types.ScopeCloudfront, nil
	}
	return "", fmt.Errorf("unknown web ACL scope %q (want REGIONAL or CLOUDFRONT)", s)
}

type Deleter struct {
	client API
	scope  types.Scope
}

func NewDeleter(client API, scope types.Scope) *Deleter {
	return &Deleter{client: client, scope: scope}
}

// Delete removes the web ACL called name. found is false when no ACL of that
// name exists in the scope.
func (d *Deleter) Delete(ctx context.Context, name string) (found bool, err error) {
	log := logctx.FromContext(ctx).With(slog.String("webACL", name), slog.String("scope", string(d.scope)))

	acl, err := d.find(ctx, name)
	if err != nil {
		return false, err
	}
	if acl == nil {
		log.Info("web ACL not found")
		return false, nil
	}

	if d.scope == types.ScopeRegional {
		if err := d.disassociate(ctx, aws.ToString(acl.ARN)); err != nil {
			return true, err
		}
	} else {
		log.Warn("CloudFront associations are managed on the distribution, not detached here")
	}

	lockToken := acl.LockToken
	for attempt := 0; ; attempt++ {
		_, err = d.client.DeleteWebACL(ctx, &wafv2.DeleteWebACLInput{
			Name:      acl.Name,
			Id:        acl.Id,
			Scope:     d.scope,
			LockToken: lockToken,
		})
		if err == nil {
			break
		}
		var stale *types.WAFOptimisticLockException
		if attempt > 0 || !errors.As(err, &stale) {
			return true, fmt.Errorf("delete web ACL %s: %w", name, err)
		}
		log.Debug("lock token stale, re-reading")
		cur, gerr := d.client.GetWebACL(ctx, &wafv2.GetWebACLInput{Name: acl.Name, Id: acl.Id, Scope: d.scope})
		if gerr != nil {
			return true, fmt.Errorf("refresh lock token for %s: %w", name, gerr)
		}
		lockToken = cur.LockToken
	}

	log.Info("web ACL deleted")
	return true, nil
}

func (d *Deleter) find(ctx context.Context, name string) (*types.WebACLSummary, error) {
	var marker *string
	for {
		out, err := d.client.ListWebACLs(ctx, &wafv2.ListWebACLsInput{
			Scope:      d.scope,
			NextMarker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("list web ACLs: %w", err)
		}
		for i := range out.WebACLs {
			if aws.ToString(out.WebACLs[i].Name) == name {
				return &out.WebACLs[i], nil
			}
		}
		// WAF keeps returning a marker on the last page; an empty page ends it.
		if aws.ToString(out.NextMarker) == "" || len(out.WebACLs) == 0 {
			return nil, nil
		}
		marker = out.NextMarker
	}
}

func (d *Deleter) disassociate(ctx context.Context, arn string) error {
	log := logctx.FromContext(ctx)
	for _, rt := range regionalResourceTypes {
		out, err := d.client.ListResourcesForWebACL(ctx, &wafv2.ListResourcesForWebACLInput{
			WebACLArn:    aws.String(arn),
			ResourceType: rt,
		})
		if err != nil {
			return fmt.Errorf("list %s resources: %w", rt, err)
		}
		for _, res := range out.ResourceArns {
			if _, err := d.client.DisassociateWebACL(ctx, &wafv2.DisassociateWebACLInput{ResourceArn: aws.String(res)}); err != nil {
				return fmt.Errorf("disassociate %s: %w", res, err)
			}
			log.Info("resource detached", slog.String("resource", res))
		}
	}
	return nil
}
