package config

import (
	"os"

	"github.com/eric2788/shortrec/utils"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"golang.org/x/crypto/bcrypt"
)

// all config will be loaded from environment variables
type Config struct {
	AnonymousLogin bool
	Port           string

	// OutputDir is where video{n}.{FileExtension} is written while recording
	OutputDir     string
	LibraryDir    string
	DatabaseDir   string
	FileExtension string

	// FrameWidth is used for both dimensions of the recorded frame
	FrameWidth          int
	VideoBitrate        int
	AudioBitrate        int
	MaxRecordingSeconds int
	TrackQueueSize      int
	MinFreeDiskMB       int

	SourceReadLimit int
	SourceRealtime  bool

	LogLevel logrus.Level

	Username     string
	PasswordHash string
	JwtSecret    string
}

func provider() (*Config, error) {

	password := os.Getenv("PASSWORD")
	username := os.Getenv("USERNAME")

	var passwordHash []byte
	var err error

	if password != "" && username != "" {
		passwordHash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	} else {
		passwordHash, err = []byte{}, nil
	}

	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(utils.EmptyOrElse(os.Getenv("LOG_LEVEL"), "info"))
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	return &Config{
		AnonymousLogin:      os.Getenv("ANONYMOUS_LOGIN") == "true",
		Port:                utils.EmptyOrElse(os.Getenv("PORT"), "8080"),
		OutputDir:           utils.EmptyOrElse(os.Getenv("OUTPUT_DIR"), "records"),
		LibraryDir:          utils.EmptyOrElse(os.Getenv("LIBRARY_DIR"), "library"),
		DatabaseDir:         utils.EmptyOrElse(os.Getenv("DATABASE_DIR"), "database"),
		FileExtension:       utils.EmptyOrElse(os.Getenv("FILE_EXTENSION"), "mp4"),
		FrameWidth:          utils.MustAtoi(utils.EmptyOrElse(os.Getenv("FRAME_WIDTH"), "375")),
		VideoBitrate:        utils.MustAtoi(utils.EmptyOrElse(os.Getenv("VIDEO_BITRATE"), "2000000")),
		AudioBitrate:        utils.MustAtoi(utils.EmptyOrElse(os.Getenv("AUDIO_BITRATE"), "128000")),
		MaxRecordingSeconds: utils.MustAtoi(utils.EmptyOrElse(os.Getenv("MAX_RECORDING_SECONDS"), "7")),
		TrackQueueSize:      utils.MustAtoi(utils.EmptyOrElse(os.Getenv("TRACK_QUEUE_SIZE"), "64")),
		MinFreeDiskMB:       utils.MustAtoi(utils.EmptyOrElse(os.Getenv("MIN_FREE_DISK_MB"), "100")),
		SourceReadLimit:     utils.MustAtoi(utils.EmptyOrElse(os.Getenv("SOURCE_READ_LIMIT"), "0")),
		SourceRealtime:      os.Getenv("SOURCE_REALTIME") != "false",
		LogLevel:            level,
		Username:            username,
		PasswordHash:        string(passwordHash),
		JwtSecret:           utils.EmptyOrElse(os.Getenv("JWT_SECRET"), "shortrec_secret"),
	}, nil
}

var Module = fx.Module("config", fx.Provide(provider))
