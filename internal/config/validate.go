package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"discarchive/internal/services"
)

var structValidator = validator.New()

// Validate ensures the configuration is usable. Structural rules come from
// the validate struct tags; cross-field rules are checked afterwards.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s fails %q (got %v)", services.ErrConfiguration, fieldPath(fe.Namespace()), fe.ActualTag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", services.ErrConfiguration, err)
	}
	if err := c.validateDestination(); err != nil {
		return err
	}
	if c.Jobs.HeartbeatTimeoutSeconds <= c.Jobs.HeartbeatIntervalSeconds {
		return fmt.Errorf("%w: jobs.heartbeat_timeout must exceed jobs.heartbeat_interval", services.ErrConfiguration)
	}
	return nil
}

func (c *Config) validateDestination() error {
	switch c.Destination.Type {
	case DestinationLocal:
		if c.Destination.Local.Path == "" {
			return fmt.Errorf("%w: destination.local.path must be set", services.ErrConfiguration)
		}
	case DestinationSSH:
		if c.Destination.SSH.Host == "" {
			return fmt.Errorf("%w: destination.ssh.host must be set", services.ErrConfiguration)
		}
		if c.Destination.SSH.User == "" {
			return fmt.Errorf("%w: destination.ssh.user must be set", services.ErrConfiguration)
		}
		if !strings.HasPrefix(c.Destination.SSH.RemotePath, "/") {
			return fmt.Errorf("%w: destination.ssh.remote_path must be absolute", services.ErrConfiguration)
		}
	}
	return nil
}

// fieldPath turns "Config.Transcode.CRF" into "Transcode.CRF".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
