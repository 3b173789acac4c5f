package scheduling

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	slotsMaterialized  prometheus.Counter
	bookingsCreated    prometheus.Counter
	capacityRejections prometheus.Counter
	bookingsReleased   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		slotsMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emr",
			Subsystem: "scheduling",
			Name:      "slots_materialized_total",
			Help:      "Token slots created from availability windows",
		}),
		bookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emr",
			Subsystem: "scheduling",
			Name:      "bookings_created_total",
			Help:      "Bookings created on token slots",
		}),
		capacityRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emr",
			Subsystem: "scheduling",
			Name:      "capacity_rejections_total",
			Help:      "Bookings rejected because the slot was full",
		}),
		bookingsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emr",
			Subsystem: "scheduling",
			Name:      "bookings_released_total",
			Help:      "Bookings that gave their token back, by status",
		}, []string{"status"}),
	}
	reg.MustRegister(m.slotsMaterialized, m.bookingsCreated, m.capacityRejections, m.bookingsReleased)
	return m
}
