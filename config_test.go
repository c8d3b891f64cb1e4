package asyncredis

import (
	"errors"
	"time"

	"github.com/aphistic/sweet"
	. "github.com/onsi/gomega"
)

type ConfigSuite struct{}

func (s *ConfigSuite) TestDefaults(t sweet.T) {
	config, err := ConfigFromMap(nil)
	Expect(err).To(BeNil())
	Expect(config).To(Equal(DefaultConfig()))
	Expect(config.Addr()).To(Equal("localhost:6379"))
	Expect(config.HealthCheckInterval).To(Equal(time.Minute))
}

func (s *ConfigSuite) TestConfigFromMap(t sweet.T) {
	config, err := ConfigFromMap(map[string]interface{}{
		OptionHost:           "redis.internal",
		OptionPort:           6380,
		OptionDB:             2,
		OptionNamespace:      "app",
		OptionMaxConnections: 5,
		OptionAcquireTimeout: "2s",
		OptionReadTimeout:    "0s",
	})

	Expect(err).To(BeNil())
	Expect(config.Addr()).To(Equal("redis.internal:6380"))
	Expect(config.DB).To(Equal(2))
	Expect(config.Namespace).To(Equal("app"))
	Expect(config.MaxConnections).To(Equal(5))
	Expect(config.AcquireTimeout).To(Equal(time.Second * 2))
	Expect(config.ReadTimeout).To(Equal(time.Duration(0)))
	Expect(config.WriteTimeout).To(Equal(time.Second * 5))
	Expect(config.Options()).To(HaveLen(9))
}

func (s *ConfigSuite) TestUnknownOptionRejected(t sweet.T) {
	_, err := ConfigFromMap(map[string]interface{}{
		OptionHost: "localhost",
		"hots":     "typo",
		"pool":     10,
	})

	Expect(errors.Is(err, ErrUnknownOption)).To(BeTrue())
	Expect(err.Error()).To(ContainSubstring("hots, pool"))
}

func (s *ConfigSuite) TestInvalidOptions(t sweet.T) {
	invalid := []map[string]interface{}{
		{OptionHost: ""},
		{OptionPort: 0},
		{OptionPort: 70000},
		{OptionDB: -1},
		{OptionMaxConnections: 0},
		{OptionAcquireTimeout: "-1s"},
		{OptionNamespace: "app*"},
		{OptionPort: "not-a-port"},
	}

	for _, options := range invalid {
		_, err := ConfigFromMap(options)
		Expect(errors.Is(err, ErrInvalidOption)).To(BeTrue(), "options: %v", options)
	}
}

func (s *ConfigSuite) TestStringMasksPassword(t sweet.T) {
	config := DefaultConfig()
	config.Password = "hunter2"
	config.Namespace = "app"

	str := config.String()
	Expect(str).To(ContainSubstring("localhost:6379"))
	Expect(str).To(ContainSubstring("app"))
	Expect(str).To(ContainSubstring("********"))
	Expect(str).NotTo(ContainSubstring("hunter2"))
}
