// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "flightradar-go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/flightradar.log")

	viper.SetDefault("radar.type", "mm2")
	viper.SetDefault("radar.url", "http://localhost:8087")
	viper.SetDefault("radar.pollinterval", 1)
	viper.SetDefault("radar.timeout", 2)
	viper.SetDefault("radar.filterincomplete", false)

	viper.SetDefault("tracker.continuationminutes", 10)
	viper.SetDefault("tracker.retentionminutes", 1440)
	viper.SetDefault("tracker.militaryonly", false)
	viper.SetDefault("tracker.milrangesfile", "")
	viper.SetDefault("tracker.hashcachecap", 150000)
	viper.SetDefault("tracker.batchsize", 200)
	viper.SetDefault("tracker.sweepevery", 10)
	viper.SetDefault("tracker.crawlunknown", false)

	viper.SetDefault("crawler.sources", []string{"hexdb", "opensky", "bazllfr"})
	viper.SetDefault("crawler.queuesize", 500)
	viper.SetDefault("crawler.intervalms", 1000)
	viper.SetDefault("crawler.maxretries", 5)
	viper.SetDefault("crawler.cachettlhours", 24)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "flights.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "flightradar")
	viper.SetDefault("output.mysql.password", "flightradar")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.database", "flightradar")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "localhost:9090")
}
