package store

import (
	"context"
	"errors"

	"catatkas/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRecord       = errors.New("invalid record")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateEntry      = errors.New("duplicate entry")
)

// Repository is the record store. AppendCollection is the one atomic paired
// write in the system: the entry append and its offset increment commit
// together or not at all. Replace* methods accept whole-collection
// replacement events from the remote mirror; ResetAll clears everything in a
// single logical transaction.
type Repository interface {
	CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error)
	GetSale(ctx context.Context, id string) (*domain.SaleRecord, error)
	UpdateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error)
	ListSales(ctx context.Context) ([]domain.SaleRecord, error)

	CreateServiceJob(ctx context.Context, job domain.ServiceJob) (*domain.ServiceJob, error)
	GetServiceJob(ctx context.Context, id string) (*domain.ServiceJob, error)
	UpdateServiceJob(ctx context.Context, job domain.ServiceJob) (*domain.ServiceJob, error)
	ListServiceJobs(ctx context.Context) ([]domain.ServiceJob, error)

	CreateExpense(ctx context.Context, expense domain.ExpenseRecord) (*domain.ExpenseRecord, error)
	ListExpenses(ctx context.Context) ([]domain.ExpenseRecord, error)

	AppendCollection(ctx context.Context, entry domain.CollectionEntry) (*domain.CollectionEntry, error)
	ListCollections(ctx context.Context) ([]domain.CollectionEntry, error)
	GetOffsets(ctx context.Context) (domain.OffsetState, error)

	AppendWithdrawal(ctx context.Context, entry domain.WithdrawalEntry) (*domain.WithdrawalEntry, error)
	ListWithdrawals(ctx context.Context) ([]domain.WithdrawalEntry, error)

	SavePublishedMetrics(ctx context.Context, snapshot domain.MetricsSnapshot) error
	GetPublishedMetrics(ctx context.Context) (domain.MetricsSnapshot, error)

	BookSnapshot(ctx context.Context) (*domain.BookSnapshot, error)

	ReplaceSales(ctx context.Context, sales []domain.SaleRecord) error
	ReplaceServiceJobs(ctx context.Context, jobs []domain.ServiceJob) error
	ReplaceExpenses(ctx context.Context, expenses []domain.ExpenseRecord) error
	ReplaceCollections(ctx context.Context, entries []domain.CollectionEntry) error
	ReplaceWithdrawals(ctx context.Context, entries []domain.WithdrawalEntry) error
	ReplaceOffsets(ctx context.Context, offsets domain.OffsetState) error

	ResetAll(ctx context.Context) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
