package model

import "time"

// Weekday は配信曜日を表す。
type Weekday string

const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

// weekdays は time.Weekday の並び（日曜始まり）に対応する。
var weekdays = [...]Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// WeekdayOf は time.Weekday を Weekday に変換する。
func WeekdayOf(d time.Weekday) Weekday {
	return weekdays[d]
}

// Valid は曜日が既定のアルファベットに含まれるかを返す。
func (w Weekday) Valid() bool {
	for _, d := range weekdays {
		if d == w {
			return true
		}
	}
	return false
}

// UserSchedule はユーザーごとの配信スケジュールを表す。
// SendTime は基準タイムゾーンでの "HH:MM"。Days が空なら毎日配信する。
type UserSchedule struct {
	UserID    string
	SendTime  string
	Days      []Weekday
	UpdatedAt time.Time
}

// Clock は基準タイムゾーンに変換した現在時刻（分単位）と曜日。
type Clock struct {
	Time string  // "HH:MM"
	Day  Weekday // mon..sun
}
