// Package reports aggregates the dashboard figures shown to administrators,
// HR and managers.
package reports

import (
	"context"
	"time"

	"feedbackhub-backend/internal/models"

	"gorm.io/gorm"
)

// DashboardCacheKey is the cache key of the computed dashboard. Feedback and
// user mutations delete it.
const DashboardCacheKey = "reports:dashboard"

const (
	trendMonths  = 6
	topReceivers = 5
)

type MonthlyTrend struct {
	Month         string  `json:"month"` // YYYY-MM
	Count         int64   `json:"count"`
	AverageRating float64 `json:"average_rating"`
}

type ReceiverScore struct {
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	AverageRating float64 `json:"average_rating"`
	FeedbackCount int64   `json:"feedback_count"`
}

type Dashboard struct {
	TotalUsers       int64            `json:"total_users"`
	ActiveUsers      int64            `json:"active_users"`
	TotalTeams       int64            `json:"total_teams"`
	TotalFeedbacks   int64            `json:"total_feedbacks"`
	PendingFeedbacks int64            `json:"pending_feedbacks"`
	AverageRating    float64          `json:"average_rating"`
	ByStatus         map[string]int64 `json:"by_status"`
	MonthlyTrends    []MonthlyTrend   `json:"monthly_trends"`
	TopReceivers     []ReceiverScore  `json:"top_receivers"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// BuildDashboard computes the dashboard as of now.
func BuildDashboard(ctx context.Context, db *gorm.DB, now time.Time) (*Dashboard, error) {
	db = db.WithContext(ctx)
	d := &Dashboard{ByStatus: map[string]int64{}, GeneratedAt: now}

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&d.TotalUsers, db.Model(&models.User{})},
		{&d.ActiveUsers, db.Model(&models.User{}).Where("status = ?", models.UserStatusActive)},
		{&d.TotalTeams, db.Model(&models.Team{})},
		{&d.TotalFeedbacks, db.Model(&models.Feedback{})},
		{&d.PendingFeedbacks, db.Model(&models.Feedback{}).Where("status = ?", models.StatusPending)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, err
		}
	}

	var avg float64
	if err := db.Model(&models.Feedback{}).Select("COALESCE(AVG(rating), 0)").Scan(&avg).Error; err != nil {
		return nil, err
	}
	d.AverageRating = round2(avg)

	var statuses []struct {
		Status string
		Total  int64
	}
	if err := db.Model(&models.Feedback{}).Select("status, COUNT(*) AS total").Group("status").Scan(&statuses).Error; err != nil {
		return nil, err
	}
	for _, s := range statuses {
		d.ByStatus[s.Status] = s.Total
	}

	trends, err := monthlyTrends(db, now)
	if err != nil {
		return nil, err
	}
	d.MonthlyTrends = trends

	if err := db.Model(&models.Feedback{}).
		Select("feedbacks.receiver_id AS user_id, users.name AS name, AVG(feedbacks.rating) AS average_rating, COUNT(*) AS feedback_count").
		Joins("JOIN users ON users.id = feedbacks.receiver_id").
		Group("feedbacks.receiver_id, users.name").
		Order("average_rating DESC, feedback_count DESC, users.name ASC").
		Limit(topReceivers).
		Scan(&d.TopReceivers).Error; err != nil {
		return nil, err
	}
	if d.TopReceivers == nil {
		d.TopReceivers = []ReceiverScore{}
	}
	for i := range d.TopReceivers {
		d.TopReceivers[i].AverageRating = round2(d.TopReceivers[i].AverageRating)
	}

	return d, nil
}

// monthlyTrends buckets the feedbacks of the last six calendar months,
// current month included. Months without feedback are reported with zeros.
// Bucketing happens here because month truncation differs between SQL
// dialects.
func monthlyTrends(db *gorm.DB, now time.Time) ([]MonthlyTrend, error) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(trendMonths - 1), 0)

	var rows []struct {
		CreatedAt time.Time
		Rating    int
	}
	if err := db.Model(&models.Feedback{}).
		Select("created_at, rating").
		Where("created_at >= ?", start).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	trends := make([]MonthlyTrend, trendMonths)
	index := make(map[string]int, trendMonths)
	for i := range trends {
		month := start.AddDate(0, i, 0).Format("2006-01")
		trends[i].Month = month
		index[month] = i
	}

	sums := make([]int64, trendMonths)
	for _, r := range rows {
		i, ok := index[r.CreatedAt.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		trends[i].Count++
		sums[i] += int64(r.Rating)
	}
	for i := range trends {
		if trends[i].Count > 0 {
			trends[i].AverageRating = round2(float64(sums[i]) / float64(trends[i].Count))
		}
	}
	return trends, nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
