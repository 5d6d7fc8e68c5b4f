package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/securityhub"
	"github.com/aws/aws-sdk-go-v2/service/securityhub/types"
	"github.com/xuri/excelize/v2"

	"github.com/dev-tams/cloudsweep/internal/logctx"
	"github.com/dev-tams/cloudsweep/internal/storage"
)

type FindingsAPI interface {
	GetFindings(ctx context.Context, params *securityhub.GetFindingsInput, optFns ...func(*securityhub.Options)) (*securityhub.GetFindingsOutput, error)
}

var _ FindingsAPI = (*securityhub.Client)(nil)

type Finding struct {
	ID           string
	Account      string
	Region       string
	Title        string
	Severity     string
	Compliance   string
	ResourceType string
	ResourceID   string
	Product      string
	Workflow     string
	UpdatedAt    string
}

func equals(values ...string) []types.StringFilter {
	out := make([]types.StringFilter, 0, len(values))
	for _, v := range values {
		out = append(out, types.StringFilter{
			Comparison: types.StringFilterComparisonEquals,
			Value:      aws.String(v),
		})
	}
	return out
}

// openFailedFindings selects active, failed control checks nobody has
// resolved or suppressed yet.
func openFailedFindings() *types.AwsSecurityFindingFilters {
	return &types.AwsSecurityFindingFilters{
		RecordState:      equals("ACTIVE"),
		WorkflowStatus:   equals("NEW", "NOTIFIED"),
		ComplianceStatus: equals("FAILED"),
	}
}

// CollectFindings pages through every open failed finding.
func CollectFindings(ctx context.Context, client FindingsAPI) ([]Finding, error) {
	var (
		out   []Finding
		token *string
		pages int
	)
	for {
		page, err := client.GetFindings(ctx, &securityhub.GetFindingsInput{
			Filters:   openFailedFindings(),
			NextToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("get findings: %w", err)
		}
		pages++
		for _, f := range page.Findings {
			out = append(out, findingRecord(f))
		}
		if aws.ToString(page.NextToken) == "" {
			break
		}
		token = page.NextToken
	}
	logctx.FromContext(ctx).Info("findings collected",
		slog.Int("pages", pages),
		slog.Int("findings", len(out)))
	return out, nil
}

func findingRecord(f types.AwsSecurityFinding) Finding {
	rec := Finding{
		ID:           orNA(f.Id),
		Account:      orNA(f.AwsAccountId),
		Region:       orNA(f.Region),
		Title:        orNA(f.Title),
		Severity:     NotAvailable,
		Compliance:   NotAvailable,
		ResourceType: NotAvailable,
		ResourceID:   NotAvailable,
		Product:      orNA(f.ProductName),
		Workflow:     NotAvailable,
		UpdatedAt:    orNA(f.UpdatedAt),
	}
	if f.Severity != nil {
		rec.Severity = strOrNA(string(f.Severity.Label))
	}
	if f.Compliance != nil {
		rec.Compliance = strOrNA(string(f.Compliance.Status))
	}
	if len(f.Resources) > 0 {
		rec.ResourceType = orNA(f.Resources[0].Type)
		rec.ResourceID = orNA(f.Resources[0].Id)
	}
	if f.Workflow != nil {
		rec.Workflow = strOrNA(string(f.Workflow.Status))
	}
	return rec
}

var findingsHeader = []any{
	"Finding ID", "Account ID", "Region", "Title", "Severity", "Compliance",
	"Resource Type", "Resource ID", "Product", "Workflow Status", "Updated At",
}

// FindingsWorkbook lays findings out on a single Findings sheet.
func FindingsWorkbook(findings []Finding) (*excelize.File, error) {
	s := sheet{name: "Findings", header: findingsHeader}
	for _, f := range findings {
		s.rows = append(s.rows, []any{
			f.ID, f.Account, f.Region, f.Title, f.Severity, f.Compliance,
			f.ResourceType, f.ResourceID, f.Product, f.Workflow, f.UpdatedAt,
		})
	}
	return newWorkbook(s)
}

func SaveFindings(ctx context.Context, st storage.Storage, key string, findings []Finding) (string, error) {
	f, err := FindingsWorkbook(findings)
	if err != nil {
		return "", err
	}
	return save(ctx, st, key, f)
}
