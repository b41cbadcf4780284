package trigger

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// GPIOSettings configures the contact-closure source.
type GPIOSettings struct {
	Chip       string `yaml:"chip" mapstructure:"chip" default:"gpiochip0"`
	Pin        int    `yaml:"pin" mapstructure:"pin" default:"17" validate:"gte=0"`
	Pull       string `yaml:"pull" mapstructure:"pull" default:"up" validate:"oneof=up down none"`
	Edge       string `yaml:"edge" mapstructure:"edge" default:"falling" validate:"oneof=rising falling both"`
	DebounceMs int    `yaml:"debounce_ms" mapstructure:"debounce_ms" default:"50" validate:"gte=0"`
}

// ArtNetSettings configures the Art-Net DMX listener.
type ArtNetSettings struct {
	ListenHost string `yaml:"listen_host" mapstructure:"listen_host" default:"0.0.0.0"`
	Port       int    `yaml:"port" mapstructure:"port" default:"6454" validate:"gte=1,lte=65535"`
	Universe   int    `yaml:"universe" mapstructure:"universe" validate:"gte=0,lte=32767"`
	Channel    int    `yaml:"channel" mapstructure:"channel" default:"1" validate:"gte=1,lte=512"`
	Threshold  int    `yaml:"threshold" mapstructure:"threshold" default:"128" validate:"gte=0,lte=255"`
}

// SACNSettings configures the sACN (E1.31) listener.
type SACNSettings struct {
	ListenHost string `yaml:"listen_host" mapstructure:"listen_host" default:"0.0.0.0"`
	Port       int    `yaml:"port" mapstructure:"port" default:"5568" validate:"gte=1,lte=65535"`
	Universe   int    `yaml:"universe" mapstructure:"universe" default:"1" validate:"gte=1,lte=63999"`
	Channel    int    `yaml:"channel" mapstructure:"channel" default:"1" validate:"gte=1,lte=512"`
	Threshold  int    `yaml:"threshold" mapstructure:"threshold" default:"128" validate:"gte=0,lte=255"`
	Multicast  bool   `yaml:"multicast" mapstructure:"multicast"`
	Interface  string `yaml:"interface" mapstructure:"interface"`
}

// decodeSettings decodes a raw settings map into a typed settings struct,
// applies defaults and validates. Unknown keys are an error, never silently
// defaulted at point of use.
func decodeSettings(settings map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to build settings decoder")
	}
	if err := dec.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
