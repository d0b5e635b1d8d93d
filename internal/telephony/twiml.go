package telephony

import (
	"encoding/xml"
	"strings"
)

// TwiML voice verbs. Twilio consumes the webhook response as an ordered XML
// document; element order is the order the caller hears things.

// Say speaks text to the caller.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Pause waits silently for the given number of seconds.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// Gather collects the caller's next utterance and posts the transcript to
// the action URL as SpeechResult.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Timeout       int      `xml:"timeout,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Say           []Say    `xml:"Say"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// VoiceResponse is a TwiML <Response> document.
type VoiceResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Say appends a spoken line.
func (v *VoiceResponse) Say(text string) *VoiceResponse {
	v.Verbs = append(v.Verbs, Say{Text: text})
	return v
}

// Pause appends a silent pause.
func (v *VoiceResponse) Pause(seconds int) *VoiceResponse {
	v.Verbs = append(v.Verbs, Pause{Length: seconds})
	return v
}

// GatherSpeech appends a speech gather posting to action, optionally speaking
// prompts inside the gather window so the caller can barge in.
func (v *VoiceResponse) GatherSpeech(action string, timeoutSeconds int, prompts ...string) *VoiceResponse {
	g := Gather{
		Input:   "speech",
		Action:  action,
		Method:  "POST",
		Timeout: timeoutSeconds,
	}
	for _, p := range prompts {
		g.Say = append(g.Say, Say{Text: p})
	}
	v.Verbs = append(v.Verbs, g)
	return v
}

// Hangup appends a hangup verb.
func (v *VoiceResponse) Hangup() *VoiceResponse {
	v.Verbs = append(v.Verbs, Hangup{})
	return v
}

// Render serializes the document with the XML declaration Twilio expects.
// Marshalling fixed structs cannot fail, so Render never returns an error.
func (v *VoiceResponse) Render() string {
	var b strings.Builder
	b.WriteString(xml.Header)
	out, err := xml.Marshal(v)
	if err != nil {
		// Unreachable with the verb types above; keep the contract of always
		// producing a parseable document.
		b.WriteString("<Response><Hangup/></Response>")
		return b.String()
	}
	b.Write(out)
	return b.String()
}
