package model

// Position is a fantasy roster position.
type Position string

// Positions.
const (
	PositionQB      Position = "QB"
	PositionRB      Position = "RB"
	PositionWR      Position = "WR"
	PositionTE      Position = "TE"
	PositionK       Position = "K"
	PositionDST     Position = "DST"
	PositionUnknown Position = "UNKNOWN"
)

// PlayerProfile is the bio and season line supplied by the player data provider.
type PlayerProfile struct {
	PlayerID      string   `json:"player_id" koanf:"player_id"`
	Name          string   `json:"name" koanf:"name"`
	Team          string   `json:"team" koanf:"team"`
	Position      Position `json:"position" koanf:"position"`
	GamesPlayed   int      `json:"games_played" koanf:"games_played"`
	PointsPerGame float64  `json:"points_per_game" koanf:"points_per_game"`
}

// DefenseProfile describes how an opponent defends each position.
type DefenseProfile struct {
	TeamID string `json:"team_id" koanf:"team_id"`
	// PointsAllowed is fantasy points allowed per game, by position.
	PointsAllowed map[Position]float64 `json:"points_allowed" koanf:"points_allowed"`
	// LeagueAverage is the league-wide points allowed per game, by position.
	LeagueAverage map[Position]float64 `json:"league_average" koanf:"league_average"`
	// Rank is 1 for the stingiest defense and 32 for the most generous.
	Rank int `json:"rank" koanf:"rank"`
}

// Forecast is the game-time weather outlook.
type Forecast struct {
	Location     string  `json:"location" koanf:"location"`
	Dome         bool    `json:"dome" koanf:"dome"`
	TempF        float64 `json:"temp_f" koanf:"temp_f"`
	WindMPH      float64 `json:"wind_mph" koanf:"wind_mph"`
	PrecipChance float64 `json:"precip_chance" koanf:"precip_chance"`
	Conditions   string  `json:"conditions" koanf:"conditions"`
}

// InjuryStatus is an official game designation.
type InjuryStatus string

// Injury designations.
const (
	InjuryHealthy      InjuryStatus = "healthy"
	InjuryQuestionable InjuryStatus = "questionable"
	InjuryDoubtful     InjuryStatus = "doubtful"
	InjuryOut          InjuryStatus = "out"
	InjuryReserve      InjuryStatus = "ir"
)

// Practice is the latest practice participation level.
type Practice string

// Practice participation levels.
const (
	PracticeFull    Practice = "full"
	PracticeLimited Practice = "limited"
	PracticeDNP     Practice = "dnp"
)

// InjuryReport is the injury provider's view of a player.
type InjuryReport struct {
	PlayerID string       `json:"player_id" koanf:"player_id"`
	Status   InjuryStatus `json:"status" koanf:"status"`
	Practice Practice     `json:"practice" koanf:"practice"`
	BodyPart string       `json:"body_part" koanf:"body_part"`
}

// History is the recent trend and variance supplied by the baseline provider.
type History struct {
	PlayerID       string    `json:"player_id" koanf:"player_id"`
	RecentPoints   []float64 `json:"recent_points" koanf:"recent_points"`
	SeasonAverage  float64   `json:"season_average" koanf:"season_average"`
	StdDev         float64   `json:"std_dev" koanf:"std_dev"`
	SnapShare      float64   `json:"snap_share" koanf:"snap_share"`
	TargetShare    float64   `json:"target_share" koanf:"target_share"`
	RedZoneTouches int       `json:"red_zone_touches" koanf:"red_zone_touches"`
}
