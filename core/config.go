package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		WSAllowedOrigins          []string
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	AttendanceConfig struct {
		Timezone      string
		Location      *time.Location
		LateCutoff    string // HH:MM, local time
		SweepSchedule string // cron spec, evaluated in Location
		SchoolDays    []time.Weekday
		ScanRetries   int
	}

	NotificationConfig struct {
		SendBuffer   int
		WriteTimeout time.Duration
		PollInterval time.Duration
		RedisURL     string
		RedisChannel string
	}

	DocumentsConfig struct {
		Backend  string // disk | s3
		Dir      string
		S3Bucket string
		S3Prefix string
		MaxSize  string // echo BodyLimit notation, e.g. 5M
	}

	SlackConfig struct {
		Token        string
		InfoChannel  string
		ErrorChannel string
	}

	Config struct {
		AppName          string
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		SecretKey        string
		WorkDir          string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		RollbarToken     string
		SendgridAPIKey   string

		Server       ServerConfig
		Database     DatabaseConfig
		Attendance   AttendanceConfig
		Notification NotificationConfig
		Documents    DocumentsConfig
		Slack        SlackConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// IsSchoolDay reports whether attendance is expected on the weekday of t.
func (c AttendanceConfig) IsSchoolDay(t time.Time) bool {
	if len(c.SchoolDays) == 0 {
		return true
	}
	wd := t.Weekday()
	for _, d := range c.SchoolDays {
		if d == wd {
			return true
		}
	}
	return false
}

// ParseCutoff parses a HH:MM late cutoff.
func ParseCutoff(s string) (hour, min int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, errors.Errorf("invalid late cutoff %q: must be formatted as HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate rejects settings the attendance workflow cannot run with.
func (c AttendanceConfig) Validate() error {
	if _, _, err := ParseCutoff(c.LateCutoff); err != nil {
		return err
	}
	if c.ScanRetries < 0 {
		return errors.Errorf("invalid scan retries %d: must be positive", c.ScanRetries)
	}
	return nil
}

// CutoffOffset returns the hour and minute of the late cutoff.
// NewConfig rejects malformed cutoffs, so 09:00 is only used for zero configs.
func (c AttendanceConfig) CutoffOffset() (hour, min int) {
	hour, min, err := ParseCutoff(c.LateCutoff)
	if err != nil {
		return 9, 0
	}
	return hour, min
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "Academia")
	conf.SetDefault("build", "develop")
	conf.SetDefault("secretKey", "x7#q2m!ac4d-emia@lk9$0vbn+=w3(z)ue8^r1&s5o*pty6fg")
	conf.SetDefault("frontendBaseURL", "http://localhost:4200")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")

	conf.SetDefault("serverHost", ":8000")
	conf.SetDefault("serverDebugHost", ":8001")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	conf.SetDefault("wsAllowedOrigins", "")

	conf.SetDefault("dbEngine", "postgres")
	conf.SetDefault("dbHost", "localhost")
	conf.SetDefault("dbPort", "5432")
	conf.SetDefault("dbName", "academia")
	conf.SetDefault("dbUser", "academia")
	conf.SetDefault("dbPassword", "academia")
	conf.SetDefault("dbAdminUser", "postgres")
	conf.SetDefault("dbAdminPassword", "postgres")
	conf.SetDefault("dbDisableTLS", true)

	conf.SetDefault("attendanceTimezone", "Africa/Dakar")
	conf.SetDefault("attendanceLateCutoff", "09:00")
	conf.SetDefault("attendanceSweepSchedule", "0 20 * * 1-5")
	conf.SetDefault("attendanceSchoolDays", "mon,tue,wed,thu,fri")
	conf.SetDefault("attendanceScanRetries", 3)

	conf.SetDefault("notificationSendBuffer", 64)
	conf.SetDefault("notificationWriteTimeout", 5*time.Second)
	conf.SetDefault("notificationPollInterval", 15*time.Second)
	conf.SetDefault("notificationRedisURL", "")
	conf.SetDefault("notificationRedisChannel", "academia:notifications")

	conf.SetDefault("documentsBackend", "disk")
	conf.SetDefault("documentsDir", "uploads")
	conf.SetDefault("documentsS3Bucket", "")
	conf.SetDefault("documentsS3Prefix", "justifications/")
	conf.SetDefault("documentsMaxSize", "5M")

	conf.SetDefault("slackToken", "")
	conf.SetDefault("slackInfoChannel", "")
	conf.SetDefault("slackErrorChannel", "")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	c := &Config{
		AppName:          conf.GetString("appName"),
		Env:              env,
		Build:            conf.GetString("build"),
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		SecretKey:        conf.GetString("secretKey"),
		WorkDir:          workDir,
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{Name: conf.GetString("appName"), Address: conf.GetString("defaultFromEmail")},
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridAPIKey:   conf.GetString("sendgridApiKey"),
	}

	c.Server = ServerConfig{
		Host:                      conf.GetString("serverHost"),
		DebugHost:                 conf.GetString("serverDebugHost"),
		ShutdownTimeout:           conf.GetDuration("serverShutdownTimeout"),
		JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
		JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
		WSAllowedOrigins:          splitList(conf.GetString("wsAllowedOrigins")),
	}

	c.Database = DatabaseConfig{
		Engine:        conf.GetString("dbEngine"),
		Host:          conf.GetString("dbHost"),
		Port:          conf.GetString("dbPort"),
		Name:          conf.GetString("dbName"),
		User:          conf.GetString("dbUser"),
		Password:      conf.GetString("dbPassword"),
		AdminUser:     conf.GetString("dbAdminUser"),
		AdminPassword: conf.GetString("dbAdminPassword"),
		DisableTLS:    conf.GetBool("dbDisableTLS"),
	}

	c.Attendance = AttendanceConfig{
		Timezone:      conf.GetString("attendanceTimezone"),
		LateCutoff:    conf.GetString("attendanceLateCutoff"),
		SweepSchedule: conf.GetString("attendanceSweepSchedule"),
		SchoolDays:    parseWeekdays(conf.GetString("attendanceSchoolDays")),
		ScanRetries:   conf.GetInt("attendanceScanRetries"),
	}
	loc, err := time.LoadLocation(c.Attendance.Timezone)
	if err != nil {
		log.Printf("config: unknown timezone %q, falling back to UTC", c.Attendance.Timezone)
		loc = time.UTC
	}
	c.Attendance.Location = loc
	if err = c.Attendance.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	c.Notification = NotificationConfig{
		SendBuffer:   conf.GetInt("notificationSendBuffer"),
		WriteTimeout: conf.GetDuration("notificationWriteTimeout"),
		PollInterval: conf.GetDuration("notificationPollInterval"),
		RedisURL:     conf.GetString("notificationRedisURL"),
		RedisChannel: conf.GetString("notificationRedisChannel"),
	}

	c.Documents = DocumentsConfig{
		Backend:  conf.GetString("documentsBackend"),
		Dir:      conf.GetString("documentsDir"),
		S3Bucket: conf.GetString("documentsS3Bucket"),
		S3Prefix: conf.GetString("documentsS3Prefix"),
		MaxSize:  conf.GetString("documentsMaxSize"),
	}
	if !filepath.IsAbs(c.Documents.Dir) {
		c.Documents.Dir = filepath.Join(workDir, c.Documents.Dir)
	}

	c.Slack = SlackConfig{
		Token:        conf.GetString("slackToken"),
		InfoChannel:  conf.GetString("slackInfoChannel"),
		ErrorChannel: conf.GetString("slackErrorChannel"),
	}

	return c
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func parseWeekdays(raw string) []time.Weekday {
	var days []time.Weekday
	for _, d := range splitList(strings.ToLower(raw)) {
		if len(d) > 3 {
			d = d[:3]
		}
		if wd, ok := weekdays[d]; ok {
			days = append(days, wd)
		}
	}
	return days
}
