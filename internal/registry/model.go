package registry

import "time"

// ProxyRecord is the health summary of one proxy endpoint.
type ProxyRecord struct {
	URL            string    `gorm:"column:url;primaryKey"`
	Protocol       string    `gorm:"column:protocol;not null"`
	Working        bool      `gorm:"column:working;not null;index:idx_proxies_working"`
	TimeoutSeconds float64   `gorm:"column:timeout_seconds;not null;index:idx_proxies_timeout,where:working = 1"`
	FailedCount    int       `gorm:"column:failed_count;not null;index:idx_proxies_failed_count"`
	LastTestedAt   time.Time `gorm:"column:last_tested_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (ProxyRecord) TableName() string {
	return "proxies"
}

// Latency is TimeoutSeconds as a duration. Only meaningful while Working.
func (p ProxyRecord) Latency() time.Duration {
	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

// FeedMeta holds the last upstream change token. There is only ever one row.
type FeedMeta struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement:false"`
	Token      string    `gorm:"column:token;not null"`
	ObservedAt time.Time `gorm:"column:observed_at"`
}

func (FeedMeta) TableName() string {
	return "feed_meta"
}

const feedMetaID = 1

// Outcome is a single probe verdict folded into a record.
type Outcome struct {
	Success bool
	Latency time.Duration
}

// Stats summarizes the registry.
type Stats struct {
	Total      int64
	Working    int64
	Failed     int64
	LastSyncAt time.Time
	LastToken  string
}
