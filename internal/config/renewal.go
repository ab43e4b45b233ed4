package config

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RenewalFlags gates renewal dispatch per provider style. A broken
// integration can be switched off without a deploy; the file is watched and
// hot-reloaded.
type RenewalFlags struct {
	PagarmePrepaid       bool `mapstructure:"pagarmePrepaid"`
	Appmax               bool `mapstructure:"appmax"`
	OpenFinanceRecurring bool `mapstructure:"openFinanceRecurring"`
	ObserveNative        bool `mapstructure:"observeNative"`
	Reconciliation       bool `mapstructure:"reconciliation"`
	StuckDeliveries      bool `mapstructure:"stuckDeliveries"`
}

func DefaultRenewalFlags() RenewalFlags {
	return RenewalFlags{
		PagarmePrepaid:       true,
		Appmax:               true,
		OpenFinanceRecurring: true,
		ObserveNative:        true,
		Reconciliation:       true,
		StuckDeliveries:      true,
	}
}

// RenewalFlagsHolder exposes the current flags; reads are lock-free.
type RenewalFlagsHolder struct {
	current atomic.Value // holds RenewalFlags
}

func NewRenewalFlagsHolder() (*RenewalFlagsHolder, error) {
	v := viper.New()

	v.SetConfigName("renewal")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/payrail/config")
	v.AddConfigPath("/etc/payrail")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRenewalFlags()
	v.SetDefault("renewal.pagarmePrepaid", defaults.PagarmePrepaid)
	v.SetDefault("renewal.appmax", defaults.Appmax)
	v.SetDefault("renewal.openFinanceRecurring", defaults.OpenFinanceRecurring)
	v.SetDefault("renewal.observeNative", defaults.ObserveNative)
	v.SetDefault("renewal.reconciliation", defaults.Reconciliation)
	v.SetDefault("renewal.stuckDeliveries", defaults.StuckDeliveries)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var flags RenewalFlags
	if err := v.UnmarshalKey("renewal", &flags); err != nil {
		return nil, err
	}

	holder := &RenewalFlagsHolder{}
	holder.current.Store(flags)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RenewalFlags
		if err := v.UnmarshalKey("renewal", &updated); err != nil {
			log.Printf("[renewal-config] reload failed: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[renewal-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *RenewalFlagsHolder) Current() RenewalFlags {
	if h == nil {
		return DefaultRenewalFlags()
	}
	if flags, ok := h.current.Load().(RenewalFlags); ok {
		return flags
	}
	return DefaultRenewalFlags()
}

// Set replaces the active flags. Tests use it to toggle styles.
func (h *RenewalFlagsHolder) Set(flags RenewalFlags) {
	h.current.Store(flags)
}

// StaticRenewalFlags returns a holder pre-loaded with fixed flags.
func StaticRenewalFlags(flags RenewalFlags) *RenewalFlagsHolder {
	holder := &RenewalFlagsHolder{}
	holder.current.Store(flags)
	return holder
}
