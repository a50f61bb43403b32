package utils

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	environmentKeySeparatorConstant         = "_"
	configurationKeySeparatorConstant       = "."
	embeddedConfigurationErrorTemplate      = "unable to read embedded configuration: %w"
	configurationFileErrorTemplate          = "unable to read configuration file %s: %w"
	configurationDecodeErrorTemplate        = "unable to decode configuration: %w"
	configurationTargetRequiredErrorMessage = "configuration target is required"
)

// ConfigurationMetadata describes where the loaded configuration came from.
type ConfigurationMetadata struct {
	ConfigFileUsed string
}

// ConfigurationLoader layers embedded defaults, an optional file and environment overrides.
type ConfigurationLoader struct {
	configurationName         string
	configurationType         string
	environmentPrefix         string
	searchPaths               []string
	embeddedConfiguration     []byte
	embeddedConfigurationType string
}

// NewConfigurationLoader constructs a loader searching searchPaths in order for name.type.
func NewConfigurationLoader(configurationName string, configurationType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	return &ConfigurationLoader{
		configurationName: configurationName,
		configurationType: configurationType,
		environmentPrefix: environmentPrefix,
		searchPaths:       append([]string{}, searchPaths...),
	}
}

// SetEmbeddedConfiguration registers configuration compiled into the binary.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(content []byte, configurationType string) {
	loader.embeddedConfiguration = append([]byte{}, content...)
	loader.embeddedConfigurationType = configurationType
}

// LoadConfiguration decodes the merged configuration into target.
// Precedence, lowest first: defaults, embedded configuration, configuration file, environment.
func (loader *ConfigurationLoader) LoadConfiguration(configurationFilePath string, defaultValues map[string]any, target any) (ConfigurationMetadata, error) {
	if target == nil {
		return ConfigurationMetadata{}, errors.New(configurationTargetRequiredErrorMessage)
	}

	configurationReader := viper.New()
	for key, value := range defaultValues {
		configurationReader.SetDefault(key, value)
	}

	if len(loader.embeddedConfiguration) > 0 {
		embeddedType := loader.embeddedConfigurationType
		if len(embeddedType) == 0 {
			embeddedType = loader.configurationType
		}
		configurationReader.SetConfigType(embeddedType)
		if readError := configurationReader.ReadConfig(bytes.NewReader(loader.embeddedConfiguration)); readError != nil {
			return ConfigurationMetadata{}, fmt.Errorf(embeddedConfigurationErrorTemplate, readError)
		}
	}

	trimmedFilePath := strings.TrimSpace(configurationFilePath)
	if len(trimmedFilePath) > 0 {
		configurationReader.SetConfigFile(trimmedFilePath)
	} else {
		configurationReader.SetConfigName(loader.configurationName)
		configurationReader.SetConfigType(loader.configurationType)
		for _, searchPath := range loader.searchPaths {
			if len(strings.TrimSpace(searchPath)) == 0 {
				continue
			}
			configurationReader.AddConfigPath(searchPath)
		}
	}

	if mergeError := configurationReader.MergeInConfig(); mergeError != nil {
		var notFound viper.ConfigFileNotFoundError
		if len(trimmedFilePath) > 0 || !errors.As(mergeError, &notFound) {
			return ConfigurationMetadata{}, fmt.Errorf(configurationFileErrorTemplate, trimmedFilePath, mergeError)
		}
	}

	if len(loader.environmentPrefix) > 0 {
		configurationReader.SetEnvPrefix(loader.environmentPrefix)
	}
	configurationReader.SetEnvKeyReplacer(strings.NewReplacer(configurationKeySeparatorConstant, environmentKeySeparatorConstant))
	configurationReader.AutomaticEnv()

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	weaklyTyped := func(decoderConfiguration *mapstructure.DecoderConfig) {
		decoderConfiguration.WeaklyTypedInput = true
	}
	if decodeError := configurationReader.Unmarshal(target, decodeHook, weaklyTyped); decodeError != nil {
		return ConfigurationMetadata{}, fmt.Errorf(configurationDecodeErrorTemplate, decodeError)
	}

	return ConfigurationMetadata{ConfigFileUsed: configurationReader.ConfigFileUsed()}, nil
}
