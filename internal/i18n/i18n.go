// Package i18n holds the outbound message texts in the supported languages.
package i18n

import (
	"strings"
)

// Lang is a supported output language.
type Lang string

const (
	LangNL Lang = "nl"
	LangEN Lang = "en"
)

// DefaultLang is used when no locale hint has been seen for a user.
const DefaultLang = LangNL

// Key names one outbound message.
type Key string

const (
	FlowExplanation          Key = "flow_explanation"
	StylePicker              Key = "style_picker"
	Success                  Key = "success"
	ProcessingBlocked        Key = "processing_blocked"
	StyleWithoutPhoto        Key = "style_without_photo"
	TextWithoutPhoto         Key = "text_without_photo"
	Privacy                  Key = "privacy"
	About                    Key = "about"
	Failure                  Key = "failure"
	MissingInputImage        Key = "missing_input_image"
	GeneratingPrompt         Key = "generating_prompt"
	RetryThisStyle           Key = "retry_this_style"
	OtherStyle               Key = "other_style"
	NewStyle                 Key = "new_style"
	TryAgain                 Key = "try_again"
	WhatIsThis               Key = "what_is_this"
	PrivacyButton            Key = "privacy_button"
	HDUnavailable            Key = "hd_unavailable"
	HDReady                  Key = "hd_ready"
	GenerationUnavailable    Key = "generation_unavailable"
	GenerationTimeout        Key = "generation_timeout"
	GenerationGenericFailure Key = "generation_generic_failure"
	QuotaReached             Key = "quota_reached"
	SendPhotoPrompt          Key = "send_photo_prompt"
)

// Params fills placeholders in parameterized texts.
type Params struct {
	Link       string
	StyleLabel string
}

type text func(Params) string

func static(s string) text { return func(Params) string { return s } }

var translations = map[Lang]map[Key]text{
	LangNL: {
		FlowExplanation:   static("Stuur een foto en ik maak er een speciale versie van in een andere stijl, helemaal gratis."),
		StylePicker:       static("Dank je. Kies hieronder een stijl."),
		Success:           static("Klaar. Je kan de afbeelding opslaan door erop te tikken."),
		ProcessingBlocked: static("Ik ben nog bezig met je vorige afbeelding."),
		StyleWithoutPhoto: static("Stuur eerst een foto, dan maak ik die stijl voor je."),
		TextWithoutPhoto:  static("Stuur gerust een foto, dan kan ik een stijl voor je maken."),
		Privacy: func(p Params) string {
			return strings.Join([]string{
				"Je foto wordt enkel gebruikt om de afbeelding te maken.",
				"Ze wordt daarna niet bewaard.",
				"Hier kan je het volledige privacybeleid lezen: " + linkOrPlaceholder(p.Link),
			}, "\n")
		},
		About:             static("Leaderbot maakt van je foto een nieuwe versie in de stijl die je kiest."),
		Failure:           static("Er ging iets mis bij het maken van je afbeelding. Kies gerust opnieuw een stijl."),
		MissingInputImage: static("Ik kon je foto niet goed lezen. Stuur ze nog eens door aub."),
		GeneratingPrompt: func(p Params) string {
			return "Ik maak nu je " + p.StyleLabel + "-stijl."
		},
		RetryThisStyle:           static("Probeer opnieuw"),
		OtherStyle:               static("Andere stijl"),
		NewStyle:                 static("Nieuwe stijl"),
		TryAgain:                 static("Probeer opnieuw"),
		WhatIsThis:               static("Wat doe ik?"),
		PrivacyButton:            static("Privacy"),
		HDUnavailable:            static("Ik kan een HD-versie delen nadat ik een afbeelding gemaakt heb."),
		HDReady:                  static("Hier is je afbeelding in volle resolutie."),
		GenerationUnavailable:    static("AI-generatie is nog niet beschikbaar."),
		GenerationTimeout:        static("Dit duurde te lang."),
		GenerationGenericFailure: static("Ik kon die afbeelding nu niet maken."),
		QuotaReached:             static("Je gratis limiet voor vandaag is bereikt. Kom morgen terug."),
		SendPhotoPrompt:          static("Top! Stuur nu je foto."),
	},
	LangEN: {
		FlowExplanation:   static("Send a photo and I will make a special version of it in another style for free."),
		StylePicker:       static("Thanks. Choose a style below."),
		Success:           static("Done. You can save the image by tapping it."),
		ProcessingBlocked: static("I am still working on your previous image."),
		StyleWithoutPhoto: static("Send a photo first, then I can make that style for you."),
		TextWithoutPhoto:  static("Feel free to send a photo, then I can make a style for you."),
		Privacy: func(p Params) string {
			return strings.Join([]string{
				"Your photo is only used to make the image.",
				"It is not stored afterwards.",
				"You can read the full privacy policy here: " + linkOrPlaceholder(p.Link),
			}, "\n")
		},
		About:             static("Leaderbot turns your photo into a new version in the style you pick."),
		Failure:           static("Something went wrong while making your image. Feel free to choose a style again."),
		MissingInputImage: static("I could not read your photo properly. Please send it again."),
		GeneratingPrompt: func(p Params) string {
			return "I am now making your " + p.StyleLabel + " style."
		},
		RetryThisStyle:           static("Retry this style"),
		OtherStyle:               static("Other style"),
		NewStyle:                 static("New style"),
		TryAgain:                 static("Try again"),
		WhatIsThis:               static("What do you do?"),
		PrivacyButton:            static("Privacy"),
		HDUnavailable:            static("I can share HD downloads after I generate an image."),
		HDReady:                  static("Here is your image in full resolution."),
		GenerationUnavailable:    static("AI generation isn't enabled yet."),
		GenerationTimeout:        static("This took too long."),
		GenerationGenericFailure: static("I couldn't generate that image right now."),
		QuotaReached:             static("You have reached today's free limit. Come back tomorrow."),
		SendPhotoPrompt:          static("Great! Send your photo now."),
	},
}

func linkOrPlaceholder(link string) string {
	if strings.TrimSpace(link) == "" {
		return "<link>"
	}
	return link
}

// NormalizeLang maps a platform locale such as "en_US" to a supported language.
func NormalizeLang(locale string) Lang {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(locale)), "en") {
		return LangEN
	}
	return LangNL
}

// T renders key in lang. Unknown languages fall back to DefaultLang.
func T(lang Lang, key Key, params ...Params) string {
	table, ok := translations[lang]
	if !ok {
		table = translations[DefaultLang]
	}
	fn, ok := table[key]
	if !ok {
		return string(key)
	}
	var p Params
	if len(params) > 0 {
		p = params[0]
	}
	return fn(p)
}
