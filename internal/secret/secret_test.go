package secret

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-tams/cloudsweep/internal/config"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := now.AddDate(0, 0, -n)
	return &t
}

type storedSecret struct {
	desc   secretsmanager.DescribeSecretOutput
	value  *secretsmanager.GetSecretValueOutput
	delete *secretsmanager.DeleteSecretInput
}

type fakeSecrets struct {
	mu       sync.Mutex
	secrets  map[string]*storedSecret
	created  map[string]*secretsmanager.CreateSecretInput
	calls    map[string]int
	throttle map[string]int
	failOn   map[string]error
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{
		secrets:  map[string]*storedSecret{},
		created:  map[string]*secretsmanager.CreateSecretInput{},
		calls:    map[string]int{},
		throttle: map[string]int{},
		failOn:   map[string]error{},
	}
}

func (f *fakeSecrets) add(name string, lastAccessed *time.Time, value string) {
	f.secrets[name] = &storedSecret{
		desc: secretsmanager.DescribeSecretOutput{
			Name:             aws.String(name),
			Description:      aws.String("db password for " + name),
			KmsKeyId:         aws.String("alias/app"),
			LastAccessedDate: lastAccessed,
			Tags:             []types.Tag{{Key: aws.String("team"), Value: aws.String("payments")}},
		},
		value: &secretsmanager.GetSecretValueOutput{Name: aws.String(name), SecretString: aws.String(value)},
	}
}

// enter records a call and returns an injected error, if any.
func (f *fakeSecrets) enter(op, name string) error {
	f.calls[op+":"+name]++
	if f.throttle[op+":"+name] > 0 {
		f.throttle[op+":"+name]--
		return &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}
	}
	return f.failOn[op+":"+name]
}

func notFound() error {
	return &types.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}
}

func (f *fakeSecrets) DescribeSecret(_ context.Context, in *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.SecretId)
	if err := f.enter("DescribeSecret", name); err != nil {
		return nil, err
	}
	s, ok := f.secrets[name]
	if !ok {
		return nil, notFound()
	}
	out := s.desc
	return &out, nil
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.SecretId)
	if err := f.enter("GetSecretValue", name); err != nil {
		return nil, err
	}
	s, ok := f.secrets[name]
	if !ok || s.value == nil {
		return nil, notFound()
	}
	return s.value, nil
}

func (f *fakeSecrets) CreateSecret(_ context.Context, in *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	if err := f.enter("CreateSecret", name); err != nil {
		return nil, err
	}
	f.created[name] = in
	return &secretsmanager.CreateSecretOutput{Name: in.Name}, nil
}

func (f *fakeSecrets) DeleteSecret(_ context.Context, in *secretsmanager.DeleteSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.SecretId)
	if err := f.enter("DeleteSecret", name); err != nil {
		return nil, err
	}
	s, ok := f.secrets[name]
	if !ok {
		return nil, notFound()
	}
	s.delete = in
	return &secretsmanager.DeleteSecretOutput{Name: in.SecretId}, nil
}

func testSettings() config.SecretsConfig {
	return config.SecretsConfig{
		NamePattern: `^[A-Za-z0-9/_+=.@-]+$`,
		StaleAfter:  180 * 24 * time.Hour,
		MaxRetries:  3,
		RetryDelay:  time.Millisecond,
	}
}

func newTestExpirer(t *testing.T, client API, days int) *Expirer {
	t.Helper()
	e, err := NewExpirer(client, testSettings(), days, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return e
}

func TestNewExpirerRejectsBadPattern(t *testing.T) {
	cfg := testSettings()
	cfg.NamePattern = "(["
	_, err := NewExpirer(newFakeSecrets(), cfg, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secrets.name_pattern")
}

func TestNameEligible(t *testing.T) {
	e := newTestExpirer(t, newFakeSecrets(), 7)

	cases := []struct {
		name string
		want bool
	}{
		{"prod/db/password", true},
		{"api_key=v2@svc", true},
		{"prod/db/password-delete-me", false},
		{"has space", false},
		{"semi;colon", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := e.NameEligible(tc.name)
			assert.Equal(t, tc.want, ok)
			if !tc.want {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestStale(t *testing.T) {
	e := newTestExpirer(t, newFakeSecrets(), 7)

	assert.True(t, e.Stale(nil), "never accessed")
	assert.False(t, e.Stale(daysAgo(10)))
	assert.False(t, e.Stale(daysAgo(179)))
	assert.True(t, e.Stale(daysAgo(200)))
}

func TestExpireRecentlyAccessedIsSkipped(t *testing.T) {
	f := newFakeSecrets()
	f.add("app/token", daysAgo(10), "s3cr3t")

	res := newTestExpirer(t, f, 7).Expire(context.Background(), "app/token")

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Empty(t, f.created)
	assert.Nil(t, f.secrets["app/token"].delete)
}

func TestExpireStaleSecretIsRenamed(t *testing.T) {
	f := newFakeSecrets()
	f.add("app/token", daysAgo(200), "s3cr3t")

	res := newTestExpirer(t, f, 14).Expire(context.Background(), "app/token")

	require.Equal(t, StatusRenamed, res.Status, res.Reason)
	assert.Equal(t, "app/token-delete-me", res.NewName)

	created := f.created["app/token-delete-me"]
	require.NotNil(t, created)
	assert.Equal(t, "s3cr3t", aws.ToString(created.SecretString))
	assert.Equal(t, "db password for app/token", aws.ToString(created.Description))
	assert.Equal(t, "alias/app", aws.ToString(created.KmsKeyId))
	require.Len(t, created.Tags, 1)
	assert.Equal(t, "payments", aws.ToString(created.Tags[0].Value))
	assert.NotEmpty(t, aws.ToString(created.ClientRequestToken))

	del := f.secrets["app/token"].delete
	require.NotNil(t, del)
	assert.Equal(t, int64(14), aws.ToInt64(del.RecoveryWindowInDays))
}

func TestExpireNeverAccessedSecretIsRenamed(t *testing.T) {
	f := newFakeSecrets()
	f.add("legacy", nil, "x")

	res := newTestExpirer(t, f, 7).Expire(context.Background(), "legacy")

	assert.Equal(t, StatusRenamed, res.Status)
}

func TestExpireCopiesBinaryOrEmptyValue(t *testing.T) {
	f := newFakeSecrets()
	f.add("bin", nil, "")
	f.secrets["bin"].value = &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{0x1, 0x2}}
	f.add("novalue", nil, "")
	f.secrets["novalue"].value = nil

	e := newTestExpirer(t, f, 7)
	require.Equal(t, StatusRenamed, e.Expire(context.Background(), "bin").Status)
	require.Equal(t, StatusRenamed, e.Expire(context.Background(), "novalue").Status)

	bin := f.created["bin-delete-me"]
	assert.Nil(t, bin.SecretString)
	assert.Equal(t, []byte{0x1, 0x2}, bin.SecretBinary)

	empty := f.created["novalue-delete-me"]
	require.NotNil(t, empty.SecretString)
	assert.Equal(t, "", *empty.SecretString)
}

func TestExpireMissingSecretIsSkipped(t *testing.T) {
	f := newFakeSecrets()

	res := newTestExpirer(t, f, 7).Expire(context.Background(), "ghost")

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, "not found", res.Reason)
}

func TestExpireSkipsIneligibleNamesWithoutCalls(t *testing.T) {
	f := newFakeSecrets()
	f.add("svc-delete-me", nil, "x")

	res := newTestExpirer(t, f, 7).Expire(context.Background(), "svc-delete-me")

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Empty(t, f.calls)
}

func TestExpireRetriesThrottling(t *testing.T) {
	f := newFakeSecrets()
	f.add("busy", nil, "x")
	f.throttle["CreateSecret:busy-delete-me"] = 2

	res := newTestExpirer(t, f, 7).Expire(context.Background(), "busy")

	require.Equal(t, StatusRenamed, res.Status, res.Reason)
	assert.Equal(t, 3, f.calls["CreateSecret:busy-delete-me"])
}

func TestExpireGivesUpAfterRetryCeiling(t *testing.T) {
	f := newFakeSecrets()
	f.add("busy", nil, "x")
	f.throttle["DescribeSecret:busy"] = 100

	res := newTestExpirer(t, f, 7).Expire(context.Background(), "busy")

	assert.Equal(t, StatusFailed, res.Status)
	require.Error(t, res.Err)
	assert.Equal(t, 4, f.calls["DescribeSecret:busy"], "one call plus three retries")
	assert.Empty(t, f.created)
}

func TestExpireOtherErrorsAreNotRetried(t *testing.T) {
	f := newFakeSecrets()
	f.add("locked", nil, "x")
	f.failOn["CreateSecret:locked-delete-me"] = &types.ResourceExistsException{Message: aws.String("already exists")}

	res := newTestExpirer(t, f, 7).Expire(context.Background(), "locked")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, f.calls["CreateSecret:locked-delete-me"])
	assert.Nil(t, f.secrets["locked"].delete, "original must survive a failed copy")
}

func TestExpireAllIsolatesFailures(t *testing.T) {
	f := newFakeSecrets()
	f.add("a", nil, "1")
	f.add("b", nil, "2")
	f.add("c", daysAgo(1), "3")
	f.failOn["DeleteSecret:b"] = &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}

	results := newTestExpirer(t, f, 7).ExpireAll(context.Background(), []string{"a", "b", "c", "missing"})

	require.Len(t, results, 4)
	assert.Equal(t, "a", results[0].Name)
	assert.Equal(t, StatusRenamed, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Equal(t, StatusSkipped, results[2].Status)
	assert.Equal(t, StatusSkipped, results[3].Status)
}
