// Package metrics exposes bridge observability two ways: DogStatsD gauges
// pushed from the poll path and a Prometheus collector scraped on demand.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ha-addons/tado-bridge/internal/connector"
)

const namespace = "tado"

var zoneLabels = []string{"zone_id", "zone_name"}

// Collector reads the connector's snapshot at scrape time; nothing is
// pre-aggregated.
type Collector struct {
	conn *connector.Connector

	apiCalls     *prometheus.Desc
	zoneTemp     *prometheus.Desc
	zoneTarget   *prometheus.Desc
	zoneHumidity *prometheus.Desc
	heatingPower *prometheus.Desc
	zoneUp       *prometheus.Desc
}

func NewCollector(conn *connector.Connector) *Collector {
	return &Collector{
		conn: conn,
		apiCalls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "api_calls_today"),
			"Outbound remote API calls since local midnight.",
			nil, nil,
		),
		zoneTemp: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "zone", "current_temperature_celsius"),
			"Current zone temperature.",
			zoneLabels, nil,
		),
		zoneTarget: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "zone", "target_temperature_celsius"),
			"Target zone temperature.",
			zoneLabels, nil,
		),
		zoneHumidity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "zone", "humidity_percentage"),
			"Current zone humidity.",
			zoneLabels, nil,
		),
		heatingPower: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "zone", "heating_power_percentage"),
			"Current zone heating power.",
			zoneLabels, nil,
		),
		zoneUp: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "zone", "available"),
			"Whether the zone's devices are reachable.",
			zoneLabels, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.apiCalls
	ch <- c.zoneTemp
	ch <- c.zoneTarget
	ch <- c.zoneHumidity
	ch <- c.heatingPower
	ch <- c.zoneUp
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.apiCalls, prometheus.GaugeValue, float64(c.conn.APICallCount()))

	for _, zone := range c.conn.Zones() {
		data, ok := c.conn.ZoneData(zone.ID)
		if !ok {
			continue
		}
		labels := []string{strconv.Itoa(zone.ID), zone.Name}
		if data.CurrentTemp != nil {
			ch <- prometheus.MustNewConstMetric(c.zoneTemp, prometheus.GaugeValue, *data.CurrentTemp, labels...)
		}
		if data.TargetTemp != nil {
			ch <- prometheus.MustNewConstMetric(c.zoneTarget, prometheus.GaugeValue, *data.TargetTemp, labels...)
		}
		if data.CurrentHumidity != nil {
			ch <- prometheus.MustNewConstMetric(c.zoneHumidity, prometheus.GaugeValue, *data.CurrentHumidity, labels...)
		}
		if data.HeatingPowerPercentage != nil {
			ch <- prometheus.MustNewConstMetric(c.heatingPower, prometheus.GaugeValue, *data.HeatingPowerPercentage, labels...)
		}
		up := 0.0
		if data.Available {
			up = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.zoneUp, prometheus.GaugeValue, up, labels...)
	}
}
