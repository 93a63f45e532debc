package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/gymdesk/internal/audit/domain"
	benefitdomain "github.com/smallbiznis/gymdesk/internal/benefit/domain"
	coupondomain "github.com/smallbiznis/gymdesk/internal/coupon/domain"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/gymdesk/internal/ledger/domain"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
	sequencedomain "github.com/smallbiznis/gymdesk/internal/sequence/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the engine writes, in dependency order.
func Models() []any {
	return []any{
		&plandomain.MembershipPlan{},
		&plandomain.BenefitDefinition{},
		&memberdomain.Member{},
		&memberdomain.MemberMembership{},
		&coupondomain.Coupon{},
		&coupondomain.CouponUsage{},
		&benefitdomain.MemberBenefitBalance{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.Payment{},
		&invoicedomain.Refund{},
		&invoicedomain.PaymentGatewayLog{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
		&auditdomain.AuditLog{},
		&sequencedomain.DocumentSequence{},
	}
}

// Apply brings the schema up to date. Postgres runs the embedded SQL
// migrations, including row-level security; other dialects are auto-migrated
// from the models.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		return conn.AutoMigrate(Models()...)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded Postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
