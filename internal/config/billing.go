package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig controls document numbering and the role policy seeded into the
// authorization enforcer.
type BillingConfig struct {
	Numbering NumberingConfig `mapstructure:"numbering"`
	Roles     []RolePolicy    `mapstructure:"roles"`
}

type NumberingConfig struct {
	InvoicePrefix    string `mapstructure:"invoicePrefix"`
	CreditNotePrefix string `mapstructure:"creditNotePrefix"`
	MemberPrefix     string `mapstructure:"memberPrefix"`
	Padding          int    `mapstructure:"padding"`
}

type RolePolicy struct {
	Role        string   `mapstructure:"role"`
	Permissions []string `mapstructure:"permissions"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Numbering: NumberingConfig{
			InvoicePrefix:    "INV",
			CreditNotePrefix: "CN",
			MemberPrefix:     "MEM",
			Padding:          6,
		},
		Roles: []RolePolicy{
			{Role: "owner", Permissions: []string{"*"}},
			{Role: "manager", Permissions: []string{
				"members.create", "members.view", "invoices.create", "invoices.view",
				"invoices.payment", "invoices.refund", "coupons.validate", "coupons.create",
				"plans.create", "plans.view", "audit_logs.view",
			}},
			{Role: "front_desk", Permissions: []string{
				"members.create", "members.view", "invoices.view", "invoices.payment",
				"coupons.validate", "plans.view",
			}},
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
	version atomic.Uint64
}

// NewStaticBillingConfigHolder wraps a fixed config without watching any file.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.store(normalizeBillingConfig(cfg))
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing-config")

	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/gymdesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GYMDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.numbering.invoicePrefix", defaults.Numbering.InvoicePrefix)
	v.SetDefault("billing.numbering.creditNotePrefix", defaults.Numbering.CreditNotePrefix)
	v.SetDefault("billing.numbering.memberPrefix", defaults.Numbering.MemberPrefix)
	v.SetDefault("billing.numbering.padding", defaults.Numbering.Padding)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
		v.SetDefault("billing.roles", defaults.Roles)
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	cfg = normalizeBillingConfig(cfg)
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.store(cfg)

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		updated = normalizeBillingConfig(updated)
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

// Version increases on every successful reload.
func (h *BillingConfigHolder) Version() uint64 {
	if h == nil {
		return 0
	}
	return h.version.Load()
}

func (h *BillingConfigHolder) store(cfg BillingConfig) {
	h.current.Store(cfg)
	h.version.Add(1)
}

func normalizeBillingConfig(cfg BillingConfig) BillingConfig {
	defaults := DefaultBillingConfig()
	n := &cfg.Numbering
	n.InvoicePrefix = strings.TrimSpace(n.InvoicePrefix)
	n.CreditNotePrefix = strings.TrimSpace(n.CreditNotePrefix)
	n.MemberPrefix = strings.TrimSpace(n.MemberPrefix)
	if n.InvoicePrefix == "" {
		n.InvoicePrefix = defaults.Numbering.InvoicePrefix
	}
	if n.CreditNotePrefix == "" {
		n.CreditNotePrefix = defaults.Numbering.CreditNotePrefix
	}
	if n.MemberPrefix == "" {
		n.MemberPrefix = defaults.Numbering.MemberPrefix
	}
	if n.Padding <= 0 {
		n.Padding = defaults.Numbering.Padding
	}
	return cfg
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.Numbering.InvoicePrefix == cfg.Numbering.CreditNotePrefix {
		return errors.New("billing.numbering invoice and credit note prefixes must differ")
	}
	if cfg.Numbering.Padding > 12 {
		return errors.New("billing.numbering.padding cannot exceed 12")
	}
	if len(cfg.Roles) == 0 {
		return errors.New("billing.roles cannot be empty")
	}
	for _, role := range cfg.Roles {
		if strings.TrimSpace(role.Role) == "" {
			return errors.New("billing.roles entries require a role name")
		}
	}
	return nil
}
