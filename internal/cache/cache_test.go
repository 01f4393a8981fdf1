package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credproxy/internal/api"
	"credproxy/internal/config"
	"credproxy/internal/issuer"
	"credproxy/internal/registry"
	"credproxy/pkg/sanitize"
)

type fakeIssuer struct {
	mu         sync.Mutex
	calls      int
	lastSource config.SourceCredentials
	creds      issuer.Credentials
	err        error
}

func (f *fakeIssuer) AssumeRole(ctx context.Context, role config.AssumedRole, source config.SourceCredentials) (issuer.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSource = source
	if f.err != nil {
		return issuer.Credentials{}, f.err
	}
	return f.creds, nil
}

func (f *fakeIssuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(nil, nil)
	ok := reg.Add("billing", registry.Definition{
		BearerToken: "billing-token-1234",
		SourceCredentials: config.SourceCredentials{
			Region: "us-east-1",
		},
		RoleSpec: config.AssumedRole{
			RoleArn: "arn:aws:iam::123456789012:role/billing",
		},
		Provenance: config.ProvenanceStatic,
	})
	require.True(t, ok)
	return reg
}

func freshCreds(clock *testClock, ttl time.Duration) issuer.Credentials {
	return issuer.Credentials{
		AccessKeyID:     "ASIAEXAMPLE",
		SecretAccessKey: "secret-value-here",
		SessionToken:    "session-token-value",
		ExpiresAt:       clock.Now().Add(ttl),
	}
}

func TestGetCredentialsCachesUntilExpiry(t *testing.T) {
	clock := &testClock{now: time.Now()}
	fake := &fakeIssuer{creds: freshCreds(clock, time.Hour)}
	c := New(testRegistry(t), fake, nil, Options{Now: clock.Now})

	first, err := c.GetCredentials(context.Background(), "billing")
	require.NoError(t, err)

	second, err := c.GetCredentials(context.Background(), "billing")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.callCount())
}

func TestGetCredentialsReissuesExpiredEntry(t *testing.T) {
	clock := &testClock{now: time.Now()}
	fake := &fakeIssuer{creds: freshCreds(clock, 15*time.Minute)}
	c := New(testRegistry(t), fake, nil, Options{Now: clock.Now})

	_, err := c.GetCredentials(context.Background(), "billing")
	require.NoError(t, err)

	// Exactly at the expiry instant the entry no longer counts as valid.
	clock.Advance(15 * time.Minute)
	fake.creds = freshCreds(clock, 15*time.Minute)

	_, err = c.GetCredentials(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.callCount())
}

func TestGetCredentialsUnknownService(t *testing.T) {
	c := New(testRegistry(t), &fakeIssuer{}, nil, Options{})

	_, err := c.GetCredentials(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
}

func TestGetCredentialsMergesProcessDefaults(t *testing.T) {
	clock := &testClock{now: time.Now()}
	fake := &fakeIssuer{creds: freshCreds(clock, time.Hour)}

	reg := registry.New(nil, nil)
	require.True(t, reg.Add("inventory", registry.Definition{
		BearerToken: "inventory-token-1234",
		RoleSpec:    config.AssumedRole{RoleArn: "arn:aws:iam::123456789012:role/inventory"},
		Provenance:  config.ProvenanceStatic,
	}))

	defaults := &config.SourceCredentials{
		Region:     "eu-central-1",
		IAMProfile: &config.IAMProfile{ProfileName: "vendor"},
	}
	c := New(reg, fake, nil, Options{Defaults: defaults, Now: clock.Now})

	_, err := c.GetCredentials(context.Background(), "inventory")
	require.NoError(t, err)

	assert.Equal(t, "eu-central-1", fake.lastSource.Region)
	require.NotNil(t, fake.lastSource.IAMProfile)
	assert.Equal(t, "vendor", fake.lastSource.IAMProfile.ProfileName)
}

func TestGetCredentialsIssuerFailureNotCached(t *testing.T) {
	clock := &testClock{now: time.Now()}
	fake := &fakeIssuer{err: errors.New("AccessDenied")}
	c := New(testRegistry(t), fake, nil, Options{Now: clock.Now})

	_, err := c.GetCredentials(context.Background(), "billing")
	require.Error(t, err)
	assert.True(t, api.IsIssuerError(err))
	assert.Equal(t, 0, c.Len())

	fake.err = nil
	fake.creds = freshCreds(clock, time.Hour)

	_, err = c.GetCredentials(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.callCount())
	assert.Equal(t, 1, c.Len())
}

func TestReapEvictsExpiredAndReleasesSecrets(t *testing.T) {
	clock := &testClock{now: time.Now()}
	san := sanitize.New()

	reg := testRegistry(t)
	require.True(t, reg.Add("reports", registry.Definition{
		BearerToken: "reports-token-1234",
		RoleSpec:    config.AssumedRole{RoleArn: "arn:aws:iam::123456789012:role/reports"},
		Provenance:  config.ProvenanceStatic,
	}))

	fake := &fakeIssuer{creds: freshCreds(clock, 10*time.Minute)}
	c := New(reg, fake, san, Options{Now: clock.Now})

	_, err := c.GetCredentials(context.Background(), "billing")
	require.NoError(t, err)
	perEntry := san.Len()

	fake.creds = issuer.Credentials{
		AccessKeyID:     "ASIALONGLIVED",
		SecretAccessKey: "other-secret-value",
		SessionToken:    "other-session-token",
		ExpiresAt:       clock.Now().Add(2 * time.Hour),
	}
	_, err = c.GetCredentials(context.Background(), "reports")
	require.NoError(t, err)
	require.Equal(t, 2*perEntry, san.Len())

	clock.Advance(30 * time.Minute)
	c.Reap()

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, perEntry, san.Len())
	assert.Equal(t, "secret-value-here", san.Redact("secret-value-here"))
	assert.NotContains(t, san.Redact("x other-secret-value x"), "other-secret-value")
}

func TestFlushEmptiesCache(t *testing.T) {
	clock := &testClock{now: time.Now()}
	san := sanitize.New()
	fake := &fakeIssuer{creds: freshCreds(clock, time.Hour)}
	c := New(testRegistry(t), fake, san, Options{Now: clock.Now})

	_, err := c.GetCredentials(context.Background(), "billing")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	c.Flush()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, san.Len())
}

func TestStartStopIdempotent(t *testing.T) {
	c := New(testRegistry(t), &fakeIssuer{}, nil, Options{ReapInterval: 10 * time.Millisecond})

	c.Start()
	c.Start()
	c.Stop()
	c.Stop()
}
