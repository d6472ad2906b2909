package profile

// builtinMarkets are the shipped market profiles. Locale order matters:
// the first locale is the market's primary storefront locale.
var builtinMarkets = []MarketProfile{
	{ID: "us", Label: "United States", Locales: []string{"en-US", "es-MX"}},
	{ID: "gb", Label: "United Kingdom", Locales: []string{"en-GB"}},
	{ID: "de", Label: "Germany", Locales: []string{"de-DE", "en-GB"}},
	{ID: "fr", Label: "France", Locales: []string{"fr-FR", "en-GB"}},
	{ID: "jp", Label: "Japan", Locales: []string{"ja-JP"}},
	{ID: "br", Label: "Brazil", Locales: []string{"pt-BR"}},
}
