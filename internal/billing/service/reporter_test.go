package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	billingdomain "github.com/smallbiznis/tokenrelay/internal/billing/domain"
	"github.com/smallbiznis/tokenrelay/internal/lock"
	profiledomain "github.com/smallbiznis/tokenrelay/internal/profile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *mockReconciler) EnsureCustomerExists(ctx context.Context, email, userID string) (string, error) {
	args := m.Called(ctx, email, userID)
	return args.String(0), args.Error(1)
}

func (m *mockReconciler) ReportUsage(ctx context.Context, customerID string, tokens int) (billingdomain.ReportResult, error) {
	args := m.Called(ctx, customerID, tokens)
	return args.Get(0).(billingdomain.ReportResult), args.Error(1)
}

func (m *mockReconciler) GetUpcomingInvoice(ctx context.Context, customerID string) (*billingdomain.InvoiceEstimate, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billingdomain.InvoiceEstimate), args.Error(1)
}

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) FindByID(ctx context.Context, id string) (*profiledomain.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*profiledomain.Profile), args.Error(1)
}

func (m *mockProfiles) SetBillingCustomerIfEmpty(ctx context.Context, id, customerID string) (bool, error) {
	args := m.Called(ctx, id, customerID)
	return args.Bool(0), args.Error(1)
}

func profileWith(customerID string) *profiledomain.Profile {
	p := &profiledomain.Profile{ID: "user-1", Email: "stored@example.com", IsActive: true}
	if customerID != "" {
		p.BillingCustomerID = &customerID
	}
	return p
}

func newTestReporter(rec *mockReconciler, profiles *mockProfiles, pl *lock.ProvisionLock) *UsageReporter {
	r := NewUsageReporter(ReporterParams{
		Reconciler: rec,
		Profiles:   profiles,
		Lock:       pl,
		Log:        zap.NewNop(),
	})
	r.pollInterval = time.Millisecond
	return r
}

var reportReq = billingdomain.ReportUsageRequest{UserID: "user-1", Email: "a@example.com", Tokens: 42}

func TestReportSkipsWhenBillingDisabled(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("Enabled").Return(false)
	profiles := &mockProfiles{}

	require.NoError(t, newTestReporter(rec, profiles, nil).Report(context.Background(), reportReq))
	profiles.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	rec.AssertNotCalled(t, "ReportUsage", mock.Anything, mock.Anything, mock.Anything)
}

func TestReportUsesStoredCustomer(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("Enabled").Return(true)
	rec.On("ReportUsage", mock.Anything, "cus_stored", 42).Return(billingdomain.ReportResult{Success: true}, nil)
	profiles := &mockProfiles{}
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith("cus_stored"), nil)

	require.NoError(t, newTestReporter(rec, profiles, nil).Report(context.Background(), reportReq))
	rec.AssertNotCalled(t, "EnsureCustomerExists", mock.Anything, mock.Anything, mock.Anything)
	rec.AssertExpectations(t)
}

func TestReportProvisionsAndPersistsCustomer(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("Enabled").Return(true)
	rec.On("EnsureCustomerExists", mock.Anything, "a@example.com", "user-1").Return("cus_new", nil)
	rec.On("ReportUsage", mock.Anything, "cus_new", 42).Return(billingdomain.ReportResult{Reason: billingdomain.ReasonNoSubscription}, nil)
	profiles := &mockProfiles{}
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith(""), nil)
	profiles.On("SetBillingCustomerIfEmpty", mock.Anything, "user-1", "cus_new").Return(true, nil)

	require.NoError(t, newTestReporter(rec, profiles, nil).Report(context.Background(), reportReq))
	rec.AssertExpectations(t)
	profiles.AssertExpectations(t)
}

func TestReportAdoptsCustomerFromConcurrentWriter(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("Enabled").Return(true)
	rec.On("EnsureCustomerExists", mock.Anything, "a@example.com", "user-1").Return("cus_mine", nil)
	rec.On("ReportUsage", mock.Anything, "cus_winner", 42).Return(billingdomain.ReportResult{Success: true}, nil)
	profiles := &mockProfiles{}
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith(""), nil).Once()
	profiles.On("SetBillingCustomerIfEmpty", mock.Anything, "user-1", "cus_mine").Return(false, nil)
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith("cus_winner"), nil)

	require.NoError(t, newTestReporter(rec, profiles, nil).Report(context.Background(), reportReq))
	rec.AssertCalled(t, "ReportUsage", mock.Anything, "cus_winner", 42)
	rec.AssertNotCalled(t, "ReportUsage", mock.Anything, "cus_mine", 42)
}

func TestReportWithMissingProfileStillReports(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("Enabled").Return(true)
	rec.On("EnsureCustomerExists", mock.Anything, "a@example.com", "user-1").Return("cus_new", nil)
	rec.On("ReportUsage", mock.Anything, "cus_new", 42).Return(billingdomain.ReportResult{Success: true}, nil)
	profiles := &mockProfiles{}
	profiles.On("FindByID", mock.Anything, "user-1").Return(nil, nil)

	require.NoError(t, newTestReporter(rec, profiles, nil).Report(context.Background(), reportReq))
	profiles.AssertNotCalled(t, "SetBillingCustomerIfEmpty", mock.Anything, mock.Anything, mock.Anything)
	rec.AssertExpectations(t)
}

func TestReportProvisioningFailureSkipsReport(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("Enabled").Return(true)
	rec.On("EnsureCustomerExists", mock.Anything, "a@example.com", "user-1").Return("", errors.New("stripe down"))
	profiles := &mockProfiles{}
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith(""), nil)

	err := newTestReporter(rec, profiles, nil).Report(context.Background(), reportReq)
	assert.Error(t, err)
	rec.AssertNotCalled(t, "ReportUsage", mock.Anything, mock.Anything, mock.Anything)
}

func TestReportWaitsForLockHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	pl := lock.NewProvisionLock(lock.NewLocker(client), time.Minute)

	_, ok, err := pl.Acquire(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	rec := &mockReconciler{}
	rec.On("Enabled").Return(true)
	rec.On("ReportUsage", mock.Anything, "cus_other", 42).Return(billingdomain.ReportResult{Success: true}, nil)
	profiles := &mockProfiles{}
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith(""), nil).Twice()
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith("cus_other"), nil)

	require.NoError(t, newTestReporter(rec, profiles, pl).Report(context.Background(), reportReq))
	rec.AssertNotCalled(t, "EnsureCustomerExists", mock.Anything, mock.Anything, mock.Anything)
	rec.AssertExpectations(t)
}

func TestReportReleasesLockAfterProvisioning(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	pl := lock.NewProvisionLock(lock.NewLocker(client), time.Minute)

	rec := &mockReconciler{}
	rec.On("Enabled").Return(true)
	rec.On("EnsureCustomerExists", mock.Anything, "a@example.com", "user-1").Return("cus_new", nil)
	rec.On("ReportUsage", mock.Anything, "cus_new", 42).Return(billingdomain.ReportResult{Success: true}, nil)
	profiles := &mockProfiles{}
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith(""), nil)
	profiles.On("SetBillingCustomerIfEmpty", mock.Anything, "user-1", "cus_new").Return(true, nil)

	require.NoError(t, newTestReporter(rec, profiles, pl).Report(context.Background(), reportReq))
	assert.False(t, mr.Exists("billing:provision:user-1"))
}

func TestReportProvisionsWhenLockHolderNeverFinishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	pl := lock.NewProvisionLock(lock.NewLocker(client), time.Minute)

	_, ok, err := pl.Acquire(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	rec := &mockReconciler{}
	rec.On("Enabled").Return(true)
	rec.On("EnsureCustomerExists", mock.Anything, "a@example.com", "user-1").Return("cus_same", nil)
	rec.On("ReportUsage", mock.Anything, "cus_same", 42).Return(billingdomain.ReportResult{Success: true}, nil)
	profiles := &mockProfiles{}
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith(""), nil)
	profiles.On("SetBillingCustomerIfEmpty", mock.Anything, "user-1", "cus_same").Return(true, nil)

	require.NoError(t, newTestReporter(rec, profiles, pl).Report(context.Background(), reportReq))
	rec.AssertCalled(t, "ReportUsage", mock.Anything, "cus_same", 42)
	// 1 initial load + 3 polls
	profiles.AssertNumberOfCalls(t, "FindByID", 4)
	assert.True(t, mr.Exists("billing:provision:user-1"))
}

func TestReportSkipsCustomerLinkedToOtherProfile(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("Enabled").Return(true)
	rec.On("EnsureCustomerExists", mock.Anything, "a@example.com", "user-1").Return("cus_taken", nil)
	profiles := &mockProfiles{}
	profiles.On("FindByID", mock.Anything, "user-1").Return(profileWith(""), nil)
	profiles.On("SetBillingCustomerIfEmpty", mock.Anything, "user-1", "cus_taken").
		Return(false, profiledomain.ErrCustomerLinkedElsewhere)

	err := newTestReporter(rec, profiles, nil).Report(context.Background(), reportReq)
	assert.ErrorIs(t, err, profiledomain.ErrCustomerLinkedElsewhere)
	rec.AssertNotCalled(t, "ReportUsage", mock.Anything, mock.Anything, mock.Anything)
}
