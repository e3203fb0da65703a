package typing

import (
	g "maragu.dev/gomponents"
	hx "maragu.dev/gomponents-htmx"
	. "maragu.dev/gomponents/html"
)

// IndicatorTarget is the element the indicator fragment replaces.
const IndicatorTarget = "#typing-indicator"

// Indicator renders the typing indicator as an out-of-band swap. An empty
// text renders an empty indicator, which hides it.
func Indicator(text string) g.Node {
	return Div(
		hx.SwapOOB("innerHTML:"+IndicatorTarget),
		g.If(text != "",
			Span(
				Class("typing-indicator text-sm italic text-gray-500"),
				Aria("live", "polite"),
				g.Text(text),
			),
		),
	)
}
