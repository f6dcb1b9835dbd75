package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "socialnet-chat",
	Level: hclog.LevelFromString("INFO"),
})
