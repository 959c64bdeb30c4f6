/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package rpc

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var debug = strings.Contains(os.Getenv("RPC_DEBUG"), "rpc") || os.Getenv("RPC_DEBUG") == "1"

var log logrus.FieldLogger

// SetLogger overrides the package-level logger used by Service and
// Client. Pass nil to restore the default.
func SetLogger(logger logrus.FieldLogger) {
	if logger == nil {
		log = defaultLogger()
		return
	}
	log = logger
}

func defaultLogger() logrus.FieldLogger {
	logger := logrus.New()
	if debug {
		logger.Level = logrus.DebugLevel
	}
	return logger.WithField("logger", "rpc")
}

func init() {
	log = defaultLogger()
}
