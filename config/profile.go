package config

// Profile is the fixed device/locale fingerprint presented by every browser
// session. It is injected into the launcher, never read from globals.
type Profile struct {
	// LaunchFlags are Chrome switches as name -> value ("" for bare switches).
	LaunchFlags map[string]string

	UserAgent         string
	Platform          string
	ViewportWidth     int
	ViewportHeight    int
	DeviceScaleFactor float64
	Mobile            bool
	Touch             bool
	Locale            string
	AcceptLanguage    string
	Timezone          string

	// ExtraHeaders are sent with every request of the session.
	ExtraHeaders map[string]string
}

// DefaultProfile returns the Android/Pixel 7 mobile profile used for all sites.
func DefaultProfile() Profile {
	return Profile{
		LaunchFlags: map[string]string{
			"disable-blink-features": "AutomationControlled",
			"disable-dev-shm-usage":  "",
			"no-sandbox":             "",
			"lang":                   "ru-RU",
		},
		UserAgent:         "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Mobile Safari/537.36",
		Platform:          "Android",
		ViewportWidth:     412,
		ViewportHeight:    915,
		DeviceScaleFactor: 2.625,
		Mobile:            true,
		Touch:             true,
		Locale:            "ru-RU",
		AcceptLanguage:    "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		Timezone:          "Europe/Moscow",
		ExtraHeaders: map[string]string{
			"Accept-Language":    "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
			"Sec-CH-UA":          `"Google Chrome";v="143", "Chromium";v="143", "Not A(Brand";v="24"`,
			"Sec-CH-UA-Mobile":   "?1",
			"Sec-CH-UA-Platform": `"Android"`,
		},
	}
}
