package models

import "time"

// HealthRecord holds one day of exported health metrics. Each metric is the
// day's latest reading rendered as "<value> <unit>", empty when not reported.
type HealthRecord struct {
	ID                             uint      `gorm:"primarykey" json:"-"`
	Day                            string    `gorm:"size:10;uniqueIndex" json:"day"`
	FlightsClimbed                 string    `gorm:"size:64" json:"flights_climbed,omitempty"`
	ActiveEnergy                   string    `gorm:"size:64" json:"active_energy,omitempty"`
	BasalEnergyBurned              string    `gorm:"size:64" json:"basal_energy_burned,omitempty"`
	StepCount                      string    `gorm:"size:64" json:"step_count,omitempty"`
	WalkingRunningDistance         string    `gorm:"size:64" json:"walking_running_distance,omitempty"`
	HeadphoneAudioExposure         string    `gorm:"size:64" json:"headphone_audio_exposure,omitempty"`
	WalkingStepLength              string    `gorm:"size:64" json:"walking_step_length,omitempty"`
	WalkingSpeed                   string    `gorm:"size:64" json:"walking_speed,omitempty"`
	WalkingAsymmetryPercentage     string    `gorm:"size:64" json:"walking_asymmetry_percentage,omitempty"`
	WalkingDoubleSupportPercentage string    `gorm:"size:64" json:"walking_double_support_percentage,omitempty"`
	HeartRate                      string    `gorm:"size:64" json:"hr,omitempty"`
	CreatedAt                      time.Time `json:"created_at"`
	UpdatedAt                      time.Time `json:"updated_at"`
}

// TableName returns the table name for the HealthRecord model.
func (HealthRecord) TableName() string {
	return "health_records"
}

