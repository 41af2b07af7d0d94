package agent

import (
	"context"
	"slices"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/language"
)

// ContentRequest asks for one speaking prompt or reading passage.
type ContentRequest struct {
	Language   language.Language
	Difficulty int

	// Previous lists items already used in the session. They must not be
	// returned again while an alternative exists.
	Previous []string
}

// Content supplies the questions and passages of an assessment.
type Content interface {
	SpeakingPrompt(ctx context.Context, req ContentRequest) (string, error)
	ReadingPassage(ctx context.Context, req ContentRequest) (string, error)
}

// StaticContent serves a fixed bank indexed by difficulty. It never fails
// and backs every other [Content] implementation.
type StaticContent struct{}

var _ Content = StaticContent{}

// SpeakingPrompt implements Content.
func (StaticContent) SpeakingPrompt(_ context.Context, req ContentRequest) (string, error) {
	return pick(speakingBank, req.Difficulty, req.Previous), nil
}

// ReadingPassage implements Content. Every language [language.Supported]
// returns has a bank; an unknown code gets the English passages.
func (StaticContent) ReadingPassage(_ context.Context, req ContentRequest) (string, error) {
	bank, ok := passageBanks[req.Language.Code]
	if !ok {
		bank = passageBanks[language.English.Code]
	}
	return pick(bank, req.Difficulty, req.Previous), nil
}

// pick returns the first unused item at difficulty, widening to the
// neighbouring levels when the level is exhausted. When everything has been
// used the first item of the level is repeated.
func pick(bank [assessment.MaxDifficulty][]string, difficulty int, previous []string) string {
	d := assessment.ClampDifficulty(difficulty) - 1
	for dist := 0; dist < len(bank); dist++ {
		for _, lvl := range []int{d - dist, d + dist} {
			if lvl < 0 || lvl >= len(bank) || (dist == 0 && lvl != d) {
				continue
			}
			for _, item := range bank[lvl] {
				if !slices.Contains(previous, item) {
					return item
				}
			}
		}
	}
	return bank[d][0]
}

var speakingBank = [assessment.MaxDifficulty][]string{
	{"What is your name and where are you from?", "How old are you and what do you do?"},
	{"Describe your daily routine.", "What do you usually eat for breakfast?"},
	{"Talk about your favorite hobby.", "Describe your home or your neighbourhood."},
	{"Describe something interesting you did last week.", "Tell me about your last holiday."},
	{"What are your plans for the future?", "What would you like to learn next year, and why?"},
	{"Explain a challenge you've overcome.", "Describe a time you had to change your plans unexpectedly."},
	{"Discuss the pros and cons of social media.", "Should public transport be free? Explain your opinion."},
	{"Describe a hypothetical situation where you had to make a difficult decision.", "If you could change one law in your country, which would it be and why?"},
	{"Analyze the impact of technology on modern society.", "How does globalization affect local cultures?"},
	{"Debate whether artificial intelligence will ultimately benefit or harm humanity.", "To what extent should governments regulate free speech online?"},
}

var passageBanks = map[string][assessment.MaxDifficulty][]string{
	"en": {
		{"The cat is black. It sleeps on the sofa."},
		{"Yesterday I went to the market. I bought apples and bread."},
		{"My family lives in a small house near the beach. We love to swim in summer."},
		{"Last year, I traveled to Spain for the first time. The food was incredible and the people were very friendly."},
		{"If I had more time, I would learn to play the guitar. Music has always been important to me."},
		{"The company announced that it would be expanding into new markets next quarter, which surprised many investors."},
		{"Despite the challenges posed by climate change, renewable energy adoption continues to accelerate worldwide."},
		{"The author's subtle use of metaphor throughout the novel serves to underscore the protagonist's internal struggle."},
		{"Neuroscientists have discovered that synaptic plasticity plays a crucial role in memory consolidation during REM sleep."},
		{"The geopolitical ramifications of this diplomatic overture could potentially reshape the balance of power across the entire region."},
	},
	"es": {
		{"El gato es negro. Duerme en el sofá."},
		{"Ayer fui al mercado. Compré manzanas y pan."},
		{"Mi familia vive en una casa pequeña cerca de la playa. Nos encanta nadar en verano."},
		{"El año pasado viajé a España por primera vez. La comida era increíble y la gente era muy amable."},
		{"Si tuviera más tiempo, aprendería a tocar la guitarra. La música siempre ha sido importante para mí."},
		{"La empresa anunció que se expandiría a nuevos mercados el próximo trimestre, lo que sorprendió a muchos inversores."},
		{"A pesar de los desafíos que plantea el cambio climático, la adopción de energías renovables sigue acelerándose en todo el mundo."},
		{"El sutil uso de la metáfora a lo largo de la novela sirve para subrayar la lucha interna del protagonista."},
		{"Los neurocientíficos han descubierto que la plasticidad sináptica desempeña un papel crucial en la consolidación de la memoria durante el sueño REM."},
		{"Las ramificaciones geopolíticas de este acercamiento diplomático podrían redefinir el equilibrio de poder en toda la región."},
	},
	"fr": {
		{"Le chat est noir. Il dort sur le canapé."},
		{"Hier, je suis allé au marché. J'ai acheté des pommes et du pain."},
		{"Ma famille habite dans une petite maison près de la plage. Nous adorons nager en été."},
		{"L'année dernière, j'ai voyagé en Espagne pour la première fois. La nourriture était incroyable et les gens étaient très sympathiques."},
		{"Si j'avais plus de temps, j'apprendrais à jouer de la guitare. La musique a toujours été importante pour moi."},
		{"L'entreprise a annoncé qu'elle allait s'étendre à de nouveaux marchés le trimestre prochain, ce qui a surpris de nombreux investisseurs."},
		{"Malgré les défis posés par le changement climatique, l'adoption des énergies renouvelables continue de s'accélérer dans le monde entier."},
		{"L'usage subtil de la métaphore tout au long du roman souligne la lutte intérieure du protagoniste."},
		{"Les neuroscientifiques ont découvert que la plasticité synaptique joue un rôle crucial dans la consolidation de la mémoire pendant le sommeil paradoxal."},
		{"Les ramifications géopolitiques de cette ouverture diplomatique pourraient redessiner l'équilibre des pouvoirs dans toute la région."},
	},
	"de": {
		{"Die Katze ist schwarz. Sie schläft auf dem Sofa."},
		{"Gestern bin ich auf den Markt gegangen. Ich habe Äpfel und Brot gekauft."},
		{"Meine Familie wohnt in einem kleinen Haus in der Nähe des Strandes. Im Sommer schwimmen wir sehr gern."},
		{"Letztes Jahr bin ich zum ersten Mal nach Spanien gereist. Das Essen war unglaublich und die Menschen waren sehr freundlich."},
		{"Wenn ich mehr Zeit hätte, würde ich Gitarre spielen lernen. Musik war mir schon immer wichtig."},
		{"Das Unternehmen kündigte an, im nächsten Quartal in neue Märkte zu expandieren, was viele Investoren überraschte."},
		{"Trotz der Herausforderungen durch den Klimawandel nimmt die Nutzung erneuerbarer Energien weltweit immer schneller zu."},
		{"Der subtile Einsatz von Metaphern im gesamten Roman unterstreicht den inneren Kampf des Protagonisten."},
		{"Neurowissenschaftler haben entdeckt, dass synaptische Plastizität bei der Gedächtniskonsolidierung während des REM-Schlafs eine entscheidende Rolle spielt."},
		{"Die geopolitischen Folgen dieser diplomatischen Annäherung könnten das Machtgleichgewicht in der gesamten Region neu gestalten."},
	},
	"it": {
		{"Il gatto è nero. Dorme sul divano."},
		{"Ieri sono andato al mercato. Ho comprato mele e pane."},
		{"La mia famiglia vive in una piccola casa vicino alla spiaggia. Ci piace nuotare in estate."},
		{"L'anno scorso ho viaggiato in Spagna per la prima volta. Il cibo era incredibile e la gente era molto gentile."},
		{"Se avessi più tempo, imparerei a suonare la chitarra. La musica è sempre stata importante per me."},
		{"L'azienda ha annunciato che si espanderà in nuovi mercati il prossimo trimestre, cosa che ha sorpreso molti investitori."},
		{"Nonostante le sfide poste dal cambiamento climatico, l'adozione delle energie rinnovabili continua ad accelerare in tutto il mondo."},
		{"L'uso sottile della metafora in tutto il romanzo sottolinea la lotta interiore del protagonista."},
		{"I neuroscienziati hanno scoperto che la plasticità sinaptica svolge un ruolo cruciale nel consolidamento della memoria durante il sonno REM."},
		{"Le ripercussioni geopolitiche di questa apertura diplomatica potrebbero ridefinire l'equilibrio di potere in tutta la regione."},
	},
	"pt": {
		{"O gato é preto. Ele dorme no sofá."},
		{"Ontem fui ao mercado. Comprei maçãs e pão."},
		{"A minha família mora numa casa pequena perto da praia. Adoramos nadar no verão."},
		{"No ano passado, viajei para a Espanha pela primeira vez. A comida era incrível e as pessoas eram muito simpáticas."},
		{"Se eu tivesse mais tempo, aprenderia a tocar violão. A música sempre foi importante para mim."},
		{"A empresa anunciou que vai expandir para novos mercados no próximo trimestre, o que surpreendeu muitos investidores."},
		{"Apesar dos desafios impostos pelas mudanças climáticas, a adoção de energias renováveis continua a acelerar em todo o mundo."},
		{"O uso sutil da metáfora ao longo do romance serve para realçar a luta interior do protagonista."},
		{"Os neurocientistas descobriram que a plasticidade sináptica desempenha um papel crucial na consolidação da memória durante o sono REM."},
		{"As ramificações geopolíticas desta aproximação diplomática poderiam redefinir o equilíbrio de poder em toda a região."},
	},
	"zh": {
		{"猫是黑色的。它在沙发上睡觉。"},
		{"昨天我去了市场。我买了苹果和面包。"},
		{"我的家人住在海边的一座小房子里。我们夏天喜欢游泳。"},
		{"去年我第一次去西班牙旅行。那里的食物非常好吃，人们也很友好。"},
		{"如果我有更多时间，我会学弹吉他。音乐对我来说一直很重要。"},
		{"公司宣布下个季度将进军新市场，这让许多投资者感到意外。"},
		{"尽管气候变化带来了诸多挑战，可再生能源在全球的普及仍在加速。"},
		{"作者在整部小说中巧妙地运用隐喻，突显了主人公的内心挣扎。"},
		{"神经科学家发现，突触可塑性在快速眼动睡眠期间的记忆巩固中起着关键作用。"},
		{"这一外交姿态带来的地缘政治影响，可能会重塑整个地区的力量平衡。"},
	},
	"ja": {
		{"猫は黒いです。ソファで寝ています。"},
		{"昨日、市場に行きました。りんごとパンを買いました。"},
		{"私の家族は海の近くの小さな家に住んでいます。夏は泳ぐのが大好きです。"},
		{"去年、初めてスペインに旅行しました。料理はすばらしく、人々はとても親切でした。"},
		{"もっと時間があれば、ギターを習いたいです。音楽はずっと私にとって大切なものです。"},
		{"その会社は来四半期に新しい市場へ進出すると発表し、多くの投資家を驚かせました。"},
		{"気候変動がもたらす課題にもかかわらず、再生可能エネルギーの導入は世界中で加速し続けています。"},
		{"小説全体を通した作者の繊細な比喩の使い方は、主人公の内面の葛藤を際立たせています。"},
		{"神経科学者たちは、シナプス可塑性がレム睡眠中の記憶の定着に重要な役割を果たしていることを発見しました。"},
		{"この外交的な働きかけがもたらす地政学的な影響は、地域全体の力の均衡を塗り替える可能性があります。"},
	},
	"ko": {
		{"고양이는 검은색이에요. 소파에서 자요."},
		{"어제 시장에 갔어요. 사과와 빵을 샀어요."},
		{"우리 가족은 바닷가 근처의 작은 집에 살아요. 여름에 수영하는 것을 좋아해요."},
		{"작년에 처음으로 스페인에 여행을 갔어요. 음식이 정말 맛있었고 사람들이 매우 친절했어요."},
		{"시간이 더 있다면 기타 치는 법을 배우고 싶어요. 음악은 항상 저에게 중요했어요."},
		{"그 회사는 다음 분기에 새로운 시장으로 진출하겠다고 발표해 많은 투자자들을 놀라게 했다."},
		{"기후 변화가 가져온 여러 어려움에도 불구하고 재생 에너지의 도입은 전 세계적으로 계속 가속화되고 있다."},
		{"소설 전반에 걸친 작가의 섬세한 은유 사용은 주인공의 내적 갈등을 부각시킨다."},
		{"신경과학자들은 시냅스 가소성이 렘수면 동안 기억을 공고화하는 데 결정적인 역할을 한다는 사실을 밝혀냈다."},
		{"이번 외교적 제안이 가져올 지정학적 파장은 지역 전체의 세력 균형을 재편할 수도 있다."},
	},
	"ar": {
		{"القطة سوداء. إنها تنام على الأريكة."},
		{"ذهبت أمس إلى السوق. اشتريت تفاحاً وخبزاً."},
		{"تعيش عائلتي في بيت صغير قرب الشاطئ. نحب السباحة في الصيف."},
		{"في العام الماضي سافرت إلى إسبانيا لأول مرة. كان الطعام رائعاً وكان الناس ودودين جداً."},
		{"لو كان لدي وقت أكثر، لتعلمت العزف على الغيتار. كانت الموسيقى دائماً مهمة بالنسبة لي."},
		{"أعلنت الشركة أنها ستتوسع في أسواق جديدة في الربع القادم، مما فاجأ كثيراً من المستثمرين."},
		{"على الرغم من التحديات التي يفرضها تغير المناخ، يستمر اعتماد الطاقة المتجددة في التسارع حول العالم."},
		{"يبرز استخدام الكاتب الدقيق للاستعارة في أرجاء الرواية الصراع الداخلي لبطلها."},
		{"اكتشف علماء الأعصاب أن اللدونة المشبكية تؤدي دوراً حاسماً في تثبيت الذاكرة أثناء نوم حركة العين السريعة."},
		{"قد تعيد التداعيات الجيوسياسية لهذه المبادرة الدبلوماسية تشكيل ميزان القوى في المنطقة بأسرها."},
	},
	"ru": {
		{"Кошка чёрная. Она спит на диване."},
		{"Вчера я ходил на рынок. Я купил яблоки и хлеб."},
		{"Моя семья живёт в маленьком доме у моря. Летом мы любим плавать."},
		{"В прошлом году я впервые поехал в Испанию. Еда была потрясающей, а люди очень дружелюбными."},
		{"Если бы у меня было больше времени, я бы научился играть на гитаре. Музыка всегда была для меня важна."},
		{"Компания объявила, что в следующем квартале выйдет на новые рынки, чем удивила многих инвесторов."},
		{"Несмотря на проблемы, вызванные изменением климата, переход на возобновляемую энергию продолжает ускоряться во всём мире."},
		{"Тонкое использование метафоры на протяжении всего романа подчёркивает внутреннюю борьбу главного героя."},
		{"Нейробиологи обнаружили, что синаптическая пластичность играет ключевую роль в консолидации памяти во время фазы быстрого сна."},
		{"Геополитические последствия этого дипломатического шага могут изменить баланс сил во всём регионе."},
	},
	"hi": {
		{"बिल्ली काली है। वह सोफ़े पर सोती है।"},
		{"कल मैं बाज़ार गया। मैंने सेब और रोटी ख़रीदी।"},
		{"मेरा परिवार समुद्र तट के पास एक छोटे से घर में रहता है। हमें गर्मियों में तैरना बहुत पसंद है।"},
		{"पिछले साल मैं पहली बार स्पेन गया। वहाँ का खाना लाजवाब था और लोग बहुत मिलनसार थे।"},
		{"अगर मेरे पास ज़्यादा समय होता, तो मैं गिटार बजाना सीखता। संगीत हमेशा से मेरे लिए महत्वपूर्ण रहा है।"},
		{"कंपनी ने घोषणा की कि वह अगली तिमाही में नए बाज़ारों में विस्तार करेगी, जिससे कई निवेशक हैरान रह गए।"},
		{"जलवायु परिवर्तन से पैदा हुई चुनौतियों के बावजूद, दुनिया भर में नवीकरणीय ऊर्जा को अपनाने की गति लगातार बढ़ रही है।"},
		{"पूरे उपन्यास में लेखक द्वारा रूपक का सूक्ष्म प्रयोग नायक के आंतरिक संघर्ष को उजागर करता है।"},
		{"तंत्रिका वैज्ञानिकों ने पाया है कि आरईएम नींद के दौरान स्मृति को सुदृढ़ करने में सिनैप्टिक प्लास्टिसिटी की अहम भूमिका होती है।"},
		{"इस कूटनीतिक पहल के भू-राजनीतिक परिणाम पूरे क्षेत्र में शक्ति संतुलन को नया रूप दे सकते हैं।"},
	},
}
