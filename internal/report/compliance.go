package report

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/configservice/types"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"github.com/dev-tams/cloudsweep/internal/logctx"
	"github.com/dev-tams/cloudsweep/internal/storage"
)

type ConfigAPI interface {
	DescribeAggregateComplianceByConfigRules(ctx context.Context, params *configservice.DescribeAggregateComplianceByConfigRulesInput, optFns ...func(*configservice.Options)) (*configservice.DescribeAggregateComplianceByConfigRulesOutput, error)
	GetAggregateComplianceDetailsByConfigRule(ctx context.Context, params *configservice.GetAggregateComplianceDetailsByConfigRuleInput, optFns ...func(*configservice.Options)) (*configservice.GetAggregateComplianceDetailsByConfigRuleOutput, error)
}

var _ ConfigAPI = (*configservice.Client)(nil)

// Target is one rule evaluated non-compliant in one account and region.
type Target struct {
	Rule    string
	Account string
	Region  string
}

type SummaryRow struct {
	Target
	NonCompliant int
}

type ComplianceRecord struct {
	Target
	ResourceType string
	ResourceID   string
	Compliance   string
	Annotation   string
	RecordedAt   string
}

type ComplianceReport struct {
	Summary []SummaryRow
	Details []ComplianceRecord
}

// ReadRuleNames returns the rule names in column A of the first sheet of the
// workbook at path, skipping the header row, blanks, and duplicates. found is
// false when the file does not exist.
func ReadRuleNames(fs afero.Fs, path string) (names []string, found bool, err error) {
	ok, err := afero.Exists(fs, path)
	if err != nil || !ok {
		return nil, false, err
	}

	in, err := fs.Open(path)
	if err != nil {
		return nil, true, err
	}
	defer in.Close()

	wb, err := excelize.OpenReader(in)
	if err != nil {
		return nil, true, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, true, nil
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, true, fmt.Errorf("read %s: %w", sheets[0], err)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		name := strings.TrimSpace(row[0])
		if name != "" && seen.Add(name) {
			names = append(names, name)
		}
	}
	return names, true, nil
}

type ComplianceCollector struct {
	client     ConfigAPI
	aggregator string
}

func NewComplianceCollector(client ConfigAPI, aggregator string) *ComplianceCollector {
	return &ComplianceCollector{client: client, aggregator: aggregator}
}

// Collect gathers non-compliant evaluations. With rules set, only those rules
// are reported and each appears in the summary even when nothing fails.
// Without rules, every rule the aggregator reports as non-compliant is used.
func (c *ComplianceCollector) Collect(ctx context.Context, rules []string) (*ComplianceReport, error) {
	log := logctx.FromContext(ctx).With(slog.String("aggregator", c.aggregator))

	targets, err := c.NonCompliantTargets(ctx)
	if err != nil {
		return nil, err
	}

	if len(rules) == 0 {
		found := mapset.NewThreadUnsafeSet[string]()
		for _, t := range targets {
			found.Add(t.Rule)
		}
		rules = found.ToSlice()
		slices.Sort(rules)
	}
	log.Info("collecting compliance details",
		slog.Int("rules", len(rules)),
		slog.Int("targets", len(targets)))

	byRule := map[string][]Target{}
	for _, t := range targets {
		byRule[t.Rule] = append(byRule[t.Rule], t)
	}

	rep := &ComplianceReport{}
	for _, rule := range rules {
		hits := byRule[rule]
		if len(hits) == 0 {
			rep.Summary = append(rep.Summary, SummaryRow{Target: Target{Rule: rule, Account: NotAvailable, Region: NotAvailable}})
			continue
		}
		for _, t := range hits {
			recs, err := c.Details(ctx, t)
			if err != nil {
				return nil, err
			}
			rep.Summary = append(rep.Summary, SummaryRow{Target: t, NonCompliant: len(recs)})
			rep.Details = append(rep.Details, recs...)
		}
	}
	return rep, nil
}

// NonCompliantTargets lists every (rule, account, region) the aggregator
// reports as NON_COMPLIANT, ordered by rule, account, then region.
func (c *ComplianceCollector) NonCompliantTargets(ctx context.Context) ([]Target, error) {
	var (
		out   []Target
		token *string
	)
	for {
		page, err := c.client.DescribeAggregateComplianceByConfigRules(ctx, &configservice.DescribeAggregateComplianceByConfigRulesInput{
			ConfigurationAggregatorName: aws.String(c.aggregator),
			Filters: &types.ConfigRuleComplianceFilters{
				ComplianceType: types.ComplianceTypeNonCompliant,
			},
			NextToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("describe aggregate compliance: %w", err)
		}
		for _, r := range page.AggregateComplianceByConfigRules {
			out = append(out, Target{
				Rule:    aws.ToString(r.ConfigRuleName),
				Account: aws.ToString(r.AccountId),
				Region:  aws.ToString(r.AwsRegion),
			})
		}
		if aws.ToString(page.NextToken) == "" {
			break
		}
		token = page.NextToken
	}

	slices.SortFunc(out, func(a, b Target) int {
		return cmp.Or(
			cmp.Compare(a.Rule, b.Rule),
			cmp.Compare(a.Account, b.Account),
			cmp.Compare(a.Region, b.Region),
		)
	})
	return out, nil
}

// Details pages through the non-compliant evaluations of one target.
func (c *ComplianceCollector) Details(ctx context.Context, t Target) ([]ComplianceRecord, error) {
	var (
		out   []ComplianceRecord
		token *string
	)
	for {
		page, err := c.client.GetAggregateComplianceDetailsByConfigRule(ctx, &configservice.GetAggregateComplianceDetailsByConfigRuleInput{
			ConfigurationAggregatorName: aws.String(c.aggregator),
			ConfigRuleName:              aws.String(t.Rule),
			AccountId:                   aws.String(t.Account),
			AwsRegion:                   aws.String(t.Region),
			ComplianceType:              types.ComplianceTypeNonCompliant,
			NextToken:                   token,
		})
		if err != nil {
			return nil, fmt.Errorf("compliance details %s/%s/%s: %w", t.Rule, t.Account, t.Region, err)
		}
		for _, r := range page.AggregateEvaluationResults {
			out = append(out, evaluationRecord(t, r))
		}
		if aws.ToString(page.NextToken) == "" {
			break
		}
		token = page.NextToken
	}
	return out, nil
}

func evaluationRecord(t Target, r types.AggregateEvaluationResult) ComplianceRecord {
	rec := ComplianceRecord{
		Target:       t,
		ResourceType: NotAvailable,
		ResourceID:   NotAvailable,
		Compliance:   strOrNA(string(r.ComplianceType)),
		Annotation:   orNA(r.Annotation),
		RecordedAt:   NotAvailable,
	}
	// the evaluation's own account and region win, the target fills gaps
	if v := aws.ToString(r.AccountId); v != "" {
		rec.Account = v
	}
	if v := aws.ToString(r.AwsRegion); v != "" {
		rec.Region = v
	}
	rec.Account, rec.Region = strOrNA(rec.Account), strOrNA(rec.Region)
	if id := r.EvaluationResultIdentifier; id != nil && id.EvaluationResultQualifier != nil {
		rec.ResourceType = orNA(id.EvaluationResultQualifier.ResourceType)
		rec.ResourceID = orNA(id.EvaluationResultQualifier.ResourceId)
	}
	if r.ResultRecordedTime != nil {
		rec.RecordedAt = r.ResultRecordedTime.UTC().Format(time.RFC3339)
	}
	return rec
}

var (
	summaryHeader = []any{"Rule Name", "Account ID", "Region", "Non-Compliant Resources"}
	detailsHeader = []any{"Rule Name", "Account ID", "Region", "Resource Type", "Resource ID", "Compliance", "Annotation", "Recorded At"}
)

// Workbook lays the report out as the Summary and Details sheets.
func (r *ComplianceReport) Workbook() (*excelize.File, error) {
	summary := sheet{name: "Summary", header: summaryHeader}
	for _, s := range r.Summary {
		summary.rows = append(summary.rows, []any{s.Rule, s.Account, s.Region, s.NonCompliant})
	}
	details := sheet{name: "Details", header: detailsHeader}
	for _, d := range r.Details {
		details.rows = append(details.rows, []any{
			d.Rule, d.Account, d.Region, d.ResourceType, d.ResourceID, d.Compliance, d.Annotation, d.RecordedAt,
		})
	}
	return newWorkbook(summary, details)
}

// Save writes the workbook to key on st.
func (r *ComplianceReport) Save(ctx context.Context, st storage.Storage, key string) (string, error) {
	f, err := r.Workbook()
	if err != nil {
		return "", err
	}
	return save(ctx, st, key, f)
}
