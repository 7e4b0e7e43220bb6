// Package achievement maintains lifetime rider statistics and evaluates
// badges and periodic challenges after each verified ride.
package achievement

import "fmt"

// Badge is a one-time milestone.
type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	earned func(Stats) bool
}

// Period is the window a challenge can be completed once in.
type Period string

// Challenge periods.
const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// Challenge is a goal that can be completed once per period.
type Challenge struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Period      Period  `json:"period"`
	Target      float64 `json:"target"`
	Unit        string  `json:"unit"`
	Reward      int     `json:"reward"`

	// accumulates reports whether progress sums across rides in the period
	// rather than being judged on a single ride.
	accumulates bool
	measure     func(Ride) float64
}

const carbonHeroGrams = 100_000

func distanceBadge(km int) Badge {
	return Badge{
		ID:          fmt.Sprintf("distance-%d", km),
		Name:        fmt.Sprintf("%d km", km),
		Description: fmt.Sprintf("Cycle %d kilometers", km),
		earned:      func(s Stats) bool { return s.TotalDistanceMeters >= float64(km)*1000 },
	}
}

func ridesBadge(rides int64) Badge {
	return Badge{
		ID:          fmt.Sprintf("rides-%d", rides),
		Name:        fmt.Sprintf("%d Rides", rides),
		Description: fmt.Sprintf("Complete %d rides", rides),
		earned:      func(s Stats) bool { return s.TotalRides >= rides },
	}
}

// Badges lists every badge in unlock order.
var Badges = []Badge{
	{
		ID:          "first-ride",
		Name:        "First Ride",
		Description: "Complete your first ride",
		earned:      func(s Stats) bool { return s.TotalRides >= 1 },
	},
	distanceBadge(100),
	distanceBadge(500),
	distanceBadge(1000),
	distanceBadge(5000),
	ridesBadge(10),
	ridesBadge(50),
	ridesBadge(100),
	{
		ID:          "carbon-hero",
		Name:        "Carbon Hero",
		Description: "Offset 100 kg of CO2",
		earned:      func(s Stats) bool { return s.TotalCarbonGrams >= carbonHeroGrams },
	},
}

// Challenges lists every challenge.
var Challenges = []Challenge{
	{
		ID:          "daily-ride",
		Title:       "Daily Ride",
		Description: "Complete a ride of at least 5km today",
		Period:      Daily,
		Target:      5,
		Unit:        "km",
		Reward:      50,
		measure:     func(r Ride) float64 { return r.DistanceMeters / 1000 },
	},
	{
		ID:          "speed-demon",
		Title:       "Speed Demon",
		Description: "Achieve an average speed of 20 km/h",
		Period:      Daily,
		Target:      20,
		Unit:        "km/h",
		Reward:      30,
		measure:     func(r Ride) float64 { return r.AverageSpeedKmh },
	},
	{
		ID:          "weekly-warrior",
		Title:       "Weekly Warrior",
		Description: "Complete 7 rides this week",
		Period:      Weekly,
		Target:      7,
		Unit:        "rides",
		Reward:      200,
		accumulates: true,
		measure:     func(Ride) float64 { return 1 },
	},
	{
		ID:          "monthly-carbon",
		Title:       "Carbon Hero",
		Description: "Save 1kg of CO2 this month",
		Period:      Monthly,
		Target:      1000,
		Unit:        "g CO2",
		Reward:      500,
		accumulates: true,
		measure:     func(r Ride) float64 { return float64(r.CarbonOffsetGrams) },
	},
}
