package sitemap

// FeatureDim is the fixed width of every page's feature vector.
const FeatureDim = 128

// Feature dimension indices, grouped by identity/content/commerce/
// navigation/trust/actions/session. Dimensions left unspecified (topic
// embedding, session context, most of navigation/trust/actions) are always
// 0.0 — see DESIGN.md's feature dimension accounting for why each one is
// either populated or deliberately left at its default.
const (
	// Identity (0-15).
	FeatPageType            = 0
	FeatConfidence          = 1
	FeatLanguage            = 2
	FeatDepth               = 3
	FeatIsAuthArea          = 4
	FeatPaywall             = 5
	FeatMobile              = 6
	FeatLoadTime            = 7
	FeatIsHTTPS             = 8
	FeatURLPathDepth        = 9
	FeatURLHasQuery         = 10
	FeatURLHasFragment      = 11
	FeatCanonical           = 12
	FeatHasStructuredData   = 13
	FeatMetaRobotsIndex     = 14
	FeatRedirectCount       = 15 // fills the identity group's reserved slot; see DESIGN.md

	// Content metrics (16-47).
	FeatTextDensity           = 16
	FeatTextLengthLog         = 17
	FeatHeadingCount          = 18
	FeatParagraphCount        = 19
	FeatImageCount            = 20
	FeatTableCount            = 21
	FeatListCount             = 22
	FeatFormFieldCount        = 23
	FeatLinkCountInternal     = 24
	FeatLinkCountExternal     = 25
	FeatAdDensity             = 26
	FeatUniqueness            = 27
	FeatReadingLevel          = 28
	FeatSentiment             = 29
	FeatVideoPresent          = 30
	FeatTopicEmbeddingStart   = 31
	FeatTopicEmbeddingEnd     = 46 // inclusive
	FeatStructuredDataRichness = 47

	// Commerce (48-63).
	FeatPrice               = 48
	FeatPriceOriginal       = 49
	FeatDiscountPct         = 50
	FeatAvailability        = 51
	FeatRating              = 52
	FeatReviewCountLog      = 53
	FeatReviewSentiment     = 54
	FeatFreeShipping        = 55
	FeatShippingSpeed       = 56
	FeatReturnScore         = 57
	FeatSellerReputation    = 58
	FeatVariantCount        = 59
	FeatComparisonAvailable = 60
	FeatPriceTrend          = 61
	FeatPricePercentile     = 62
	FeatDealScore           = 63

	// Navigation (64-79).
	FeatOutboundLinks     = 64
	FeatPaginationPresent = 65
	FeatBreadcrumbDepth   = 66
	FeatSearchAvailable   = 67
	FeatIsDeadEnd         = 68
	// 69-79 reserved, always 0.0.

	// Trust & safety (80-95).
	FeatTLSValid         = 80
	FeatContentFreshness = 81
	FeatBlockedFlag      = 82
	FeatAuthRequired     = 83
	FeatEstimatedFlag    = 84
	FeatStaleFlag        = 85
	FeatHTTPStatusOK     = 86
	FeatRobotsAllowed    = 87
	// 88-95 reserved, always 0.0.

	// Actions (96-111).
	FeatActionCount            = 96
	FeatSafeActionRatio        = 97
	FeatCautiousActionRatio    = 98
	FeatDestructiveActionRatio = 99
	FeatPrimaryCTAPresent      = 100
	FeatHasForm                = 101
	FeatHasSearchAction        = 102
	FeatHasLoginAction         = 103
	FeatHasPurchaseAction      = 104
	// 105-111 reserved, always 0.0.

	// Session context (112-127) — always 0.0; ACT/WATCH sessions are out
	// of scope.
)
