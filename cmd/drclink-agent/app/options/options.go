package options

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/drclink-io/drclink/internal/agent"
	"github.com/drclink-io/drclink/pkg/log"
	"github.com/drclink-io/drclink/pkg/options"
)

// AgentOptions holds the full agent configuration, one group per concern.
// The mapstructure tags mirror the flag prefixes, so a config file uses
// the same keys as the command line.
type AgentOptions struct {
	MqttOptions *options.MqttOptions `json:"mqtt" mapstructure:"mqtt"`
	DrcOptions  *options.DrcOptions  `json:"drc" mapstructure:"drc"`
	HttpOptions *options.HttpOptions `json:"http" mapstructure:"http"`
	Log         *log.Options         `json:"log" mapstructure:"log"`
}

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		MqttOptions: options.NewMqttOptions(),
		DrcOptions:  options.NewDrcOptions(),
		HttpOptions: options.NewHttpOptions(),
		Log:         log.NewOptions(),
	}
}

// AddFlags registers every option group on the given flag set.
func (o *AgentOptions) AddFlags(fs *pflag.FlagSet) {
	o.MqttOptions.AddFlags(fs)
	o.DrcOptions.AddFlags(fs)
	o.HttpOptions.AddFlags(fs)
	o.Log.AddFlags(fs)
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.DrcOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errors.Join(errs...)
}

func (o *AgentOptions) Config() (*agent.Config, error) {
	return &agent.Config{
		MqttOptions: o.MqttOptions,
		DrcOptions:  o.DrcOptions,
		HttpOptions: o.HttpOptions,
	}, nil
}
