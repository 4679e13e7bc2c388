/*
Copyright 2025 Bunlink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/internal/request"
	"github.com/sirupsen/logrus"
)

// SlackNotification posts an error to the configured Slack webhook. Used for
// failures a retry will not heal (rejected cancellations, collapsed
// duplicate ledger rows, exhausted job retries).
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Bunlink 🐞",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, err.Error(), time.Now().Format(time.RFC822)))

	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}

	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		logrus.Error(err)
		return
	}

	req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		logrus.Error(err)
		return
	}

	var response map[string]interface{}
	_, err = request.Call(req, &response)
	if err != nil {
		logrus.Error(err)
	}
}

// WebhookNotification posts an error payload to the generic notification
// webhook, if one is configured.
func WebhookNotification(err error) {
	conf, cfgErr := config.Fetch()
	if cfgErr != nil {
		log.Println(cfgErr)
		return
	}

	if conf.Notification.Webhook.Url == "" {
		return
	}

	payload, mErr := request.ToJsonReq(map[string]interface{}{
		"error": err.Error(),
		"time":  time.Now().Format(time.RFC3339),
	})
	if mErr != nil {
		logrus.Error(mErr)
		return
	}

	req, rErr := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if rErr != nil {
		logrus.Error(rErr)
		return
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	var response map[string]interface{}
	if _, cErr := request.Call(req, &response); cErr != nil {
		logrus.Error(cErr)
	}
}

// NotifyError fans an error out to every configured notification channel and
// always logs it.
func NotifyError(err error) {
	logrus.Error(err)
	SlackNotification(err)
	WebhookNotification(err)
}
