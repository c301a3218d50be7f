package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithFields(log.Fields{"err": err}).Error("hubtun failed")
		os.Exit(1)
	}
}
